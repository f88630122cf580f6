// Package solar models available solar power: a piecewise-linear daily
// curve and the per-device input that is either manual watts or the curve
// scaled by a ceiling.
package solar

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MinutesPerDay is the domain of a Curve.
const MinutesPerDay = 24 * 60

// Breakpoint pins the curve to Fraction at Minute past midnight.
type Breakpoint struct {
	Minute   int     `json:"minute" yaml:"minute" mapstructure:"minute"`
	Fraction float64 `json:"fraction" yaml:"fraction" mapstructure:"fraction"`
}

// Segment names a span of the day for display.
type Segment struct {
	Name  string `json:"name"`
	Start int    `json:"start_minute"`
	End   int    `json:"end_minute"`
}

// DefaultBreakpoints is the stock daylight profile. Fractions between
// breakpoints are interpolated linearly.
var DefaultBreakpoints = []Breakpoint{
	{0, 0},
	{300, 0},
	{360, 0.05},
	{660, 0.85},
	{720, 1.0},
	{780, 0.95},
	{840, 0.85},
	{1020, 0.30},
	{1080, 0.05},
	{1200, 0},
	{1440, 0},
}

// DefaultSegments labels DefaultBreakpoints.
var DefaultSegments = []Segment{
	{Name: "night", Start: 0, End: 360},
	{Name: "morning", Start: 360, End: 720},
	{Name: "peak", Start: 720, End: 840},
	{Name: "afternoon", Start: 840, End: 1080},
	{Name: "night", Start: 1080, End: MinutesPerDay},
}

// Curve maps time of day to a fraction in [0, 1]. It is immutable and safe
// for concurrent use.
type Curve struct {
	points   []Breakpoint
	segments []Segment
}

// NewCurve validates breakpoints and builds a curve. The first breakpoint
// must be at minute 0, the last at MinutesPerDay, minutes must strictly
// increase and every fraction must lie in [0, 1].
func NewCurve(points []Breakpoint, segments []Segment) (*Curve, error) {
	if len(points) < 2 {
		return nil, errors.New("solar curve needs at least two breakpoints")
	}
	if points[0].Minute != 0 {
		return nil, fmt.Errorf("solar curve must start at minute 0, got %d", points[0].Minute)
	}
	if last := points[len(points)-1].Minute; last != MinutesPerDay {
		return nil, fmt.Errorf("solar curve must end at minute %d, got %d", MinutesPerDay, last)
	}

	var errs []error
	for i, p := range points {
		if p.Fraction < 0 || p.Fraction > 1 || math.IsNaN(p.Fraction) {
			errs = append(errs, fmt.Errorf("breakpoint %d: fraction %v outside [0, 1]", i, p.Fraction))
		}
		if i > 0 && p.Minute <= points[i-1].Minute {
			errs = append(errs, fmt.Errorf("breakpoint %d: minute %d not after %d", i, p.Minute, points[i-1].Minute))
		}
	}
	for i, s := range segments {
		if s.Start < 0 || s.End > MinutesPerDay || s.Start >= s.End {
			errs = append(errs, fmt.Errorf("segment %d (%s): invalid span %d-%d", i, s.Name, s.Start, s.End))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Curve{
		points:   append([]Breakpoint(nil), points...),
		segments: append([]Segment(nil), segments...),
	}, nil
}

// DefaultCurve returns the curve built from DefaultBreakpoints.
func DefaultCurve() *Curve {
	c, err := NewCurve(DefaultBreakpoints, DefaultSegments)
	if err != nil {
		panic(err)
	}
	return c
}

// Breakpoints returns a copy of the curve's breakpoints.
func (c *Curve) Breakpoints() []Breakpoint {
	return append([]Breakpoint(nil), c.points...)
}

// FractionAt returns the fraction for the wall-clock time of t in t's
// location.
func (c *Curve) FractionAt(t time.Time) float64 {
	h, m, s := t.Clock()
	minute := float64(h*60+m) + float64(s)/60 + float64(t.Nanosecond())/6e10
	return c.FractionAtMinute(minute)
}

// FractionAtMinute returns the fraction at the given minute past midnight.
// Values outside one day wrap around.
func (c *Curve) FractionAtMinute(minute float64) float64 {
	if math.IsNaN(minute) || math.IsInf(minute, 0) {
		return 0
	}
	minute = math.Mod(minute, MinutesPerDay)
	if minute < 0 {
		minute += MinutesPerDay
	}

	for i := 1; i < len(c.points); i++ {
		lo, hi := c.points[i-1], c.points[i]
		if minute > float64(hi.Minute) {
			continue
		}
		span := float64(hi.Minute - lo.Minute)
		pos := (minute - float64(lo.Minute)) / span
		return clamp01(lo.Fraction + pos*(hi.Fraction-lo.Fraction))
	}
	return clamp01(c.points[len(c.points)-1].Fraction)
}

// MaxSlope is the steepest change per minute between two breakpoints.
func (c *Curve) MaxSlope() float64 {
	var slope float64
	for i := 1; i < len(c.points); i++ {
		lo, hi := c.points[i-1], c.points[i]
		s := math.Abs(hi.Fraction-lo.Fraction) / float64(hi.Minute-lo.Minute)
		slope = math.Max(slope, s)
	}
	return slope
}

// SegmentAt returns the name of the segment containing minute, or "" if the
// curve has no segment there.
func (c *Curve) SegmentAt(minute int) string {
	minute = ((minute % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	for _, s := range c.segments {
		if minute >= s.Start && minute < s.End {
			return s.Name
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

package solar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCurve_BoundsForEveryMinute(t *testing.T) {
	c := DefaultCurve()
	for m := 0; m < MinutesPerDay; m++ {
		f := c.FractionAtMinute(float64(m))
		require.GreaterOrEqual(t, f, 0.0, "minute %d", m)
		require.LessOrEqual(t, f, 1.0, "minute %d", m)
	}
}

func TestDefaultCurve_Continuous(t *testing.T) {
	c := DefaultCurve()
	limit := c.MaxSlope() + 1e-9
	for m := 0; m < MinutesPerDay; m++ {
		step := c.FractionAtMinute(float64(m+1)) - c.FractionAtMinute(float64(m))
		if step < 0 {
			step = -step
		}
		require.LessOrEqual(t, step, limit, "jump between minute %d and %d", m, m+1)
	}

	// Approaching each breakpoint from both sides converges on its value
	for _, bp := range c.Breakpoints() {
		if bp.Minute == 0 || bp.Minute == MinutesPerDay {
			continue
		}
		m := float64(bp.Minute)
		assert.InDelta(t, bp.Fraction, c.FractionAtMinute(m-1e-6), 1e-6)
		assert.InDelta(t, bp.Fraction, c.FractionAtMinute(m+1e-6), 1e-6)
	}
}

func TestDefaultCurve_Segments(t *testing.T) {
	c := DefaultCurve()
	tests := []struct {
		clock   string
		segment string
		lo, hi  float64
	}{
		{"02:00", "night", 0, 0.05},
		{"06:00", "morning", 0.05, 0.05},
		{"09:00", "morning", 0.05, 0.85},
		{"12:00", "peak", 1.0, 1.0},
		{"13:00", "peak", 0.95, 0.95},
		{"15:30", "afternoon", 0.30, 0.85},
		{"17:00", "afternoon", 0.30, 0.30},
		{"19:00", "night", 0, 0.05},
		{"23:59", "night", 0, 0},
	}
	for _, tt := range tests {
		ts, err := time.Parse("15:04", tt.clock)
		require.NoError(t, err)
		minute := ts.Hour()*60 + ts.Minute()

		f := c.FractionAt(ts)
		assert.Equal(t, tt.segment, c.SegmentAt(minute), tt.clock)
		assert.GreaterOrEqual(t, f, tt.lo-1e-9, tt.clock)
		assert.LessOrEqual(t, f, tt.hi+1e-9, tt.clock)
	}
}

func TestFractionAtMinute_Wraps(t *testing.T) {
	c := DefaultCurve()
	assert.InDelta(t, c.FractionAtMinute(720), c.FractionAtMinute(720+MinutesPerDay), 1e-12)
	assert.InDelta(t, c.FractionAtMinute(720), c.FractionAtMinute(720-MinutesPerDay), 1e-12)
}

func TestFractionAt_Deterministic(t *testing.T) {
	c := DefaultCurve()
	ts := time.Date(2026, 6, 21, 10, 30, 0, 0, time.UTC)
	first := c.FractionAt(ts)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.FractionAt(ts))
	}
	// 10:30 lies on the morning ramp from 06:00 (0.05) to 11:00 (0.85)
	assert.InDelta(t, 0.05+0.8*(270.0/300.0), first, 1e-9)
}

func TestNewCurve_Validation(t *testing.T) {
	tests := []struct {
		name   string
		points []Breakpoint
	}{
		{"too few", []Breakpoint{{0, 0}}},
		{"late start", []Breakpoint{{10, 0}, {MinutesPerDay, 0}}},
		{"early end", []Breakpoint{{0, 0}, {1000, 0}}},
		{"not increasing", []Breakpoint{{0, 0}, {600, 0.5}, {600, 0.6}, {MinutesPerDay, 0}}},
		{"fraction above one", []Breakpoint{{0, 0}, {720, 1.2}, {MinutesPerDay, 0}}},
		{"negative fraction", []Breakpoint{{0, -0.1}, {MinutesPerDay, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCurve(tt.points, nil)
			assert.Error(t, err)
		})
	}

	_, err := NewCurve([]Breakpoint{{0, 0}, {MinutesPerDay, 0}}, []Segment{{Name: "bad", Start: 100, End: 50}})
	assert.Error(t, err)
}

func TestNewCurve_Recalibrated(t *testing.T) {
	c, err := NewCurve([]Breakpoint{{0, 0.5}, {MinutesPerDay, 0.5}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.FractionAtMinute(123))
	assert.Equal(t, "", c.SegmentAt(123))
}

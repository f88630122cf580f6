package solar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxManualWatts bounds manual solar input.
	MaxManualWatts = 50000

	// DefaultMaxPowerW is the curve ceiling when none is configured.
	DefaultMaxPowerW = 5000
)

// Mode selects where available power comes from.
type Mode int

const (
	ModeCurve Mode = iota
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "curve"
}

// ParseMode accepts "curve" or "manual". Empty means curve.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "curve":
		return ModeCurve, nil
	case "manual":
		return ModeManual, nil
	default:
		return ModeCurve, fmt.Errorf("invalid solar mode %q (want curve or manual)", s)
	}
}

// Input is the solar supply for one device.
type Input struct {
	Mode        Mode    `json:"mode"`
	ManualWatts float64 `json:"manual_watts"`
	MaxPowerW   float64 `json:"max_power_w"`
}

// ManualInput returns a manual input with watts clamped to [0, MaxManualWatts].
func ManualInput(watts float64) Input {
	return Input{Mode: ModeManual, ManualWatts: ClampWatts(watts)}
}

// CurveInput returns a curve input scaled by maxPowerW.
func CurveInput(maxPowerW float64) Input {
	return Input{Mode: ModeCurve, MaxPowerW: maxPowerW}
}

// ParseInput accepts "curve", or a wattage with an optional "w" suffix for
// manual input.
func ParseInput(s string) (Input, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == ModeCurve.String() {
		return CurveInput(0), nil
	}
	watts, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "w")), 64)
	if err != nil {
		return Input{}, fmt.Errorf("invalid solar input %q: want \"curve\" or watts", s)
	}
	return ManualInput(watts), nil
}

// ClampWatts clamps manual watts to [0, MaxManualWatts].
func ClampWatts(w float64) float64 {
	if math.IsNaN(w) {
		return 0
	}
	return math.Max(0, math.Min(MaxManualWatts, w))
}

// Available returns the watts available at now.
func (in Input) Available(now time.Time, curve *Curve) float64 {
	if in.Mode == ModeManual {
		return ClampWatts(in.ManualWatts)
	}
	if curve == nil {
		curve = DefaultCurve()
	}
	ceiling := in.MaxPowerW
	if ceiling <= 0 {
		ceiling = DefaultMaxPowerW
	}
	return curve.FractionAt(now) * ceiling
}

func (in Input) String() string {
	if in.Mode == ModeManual {
		return fmt.Sprintf("manual %.0f W", ClampWatts(in.ManualWatts))
	}
	return fmt.Sprintf("curve x %.0f W", in.MaxPowerW)
}

package miner

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PowerProfile is a frequency offset step as understood by the profileset
// command. The named profiles are fixed offsets; Manual(n) covers the rest
// of the firmware's range.
type PowerProfile int

const (
	MaxPower PowerProfile = 2
	Balanced PowerProfile = 0
	UltraEco PowerProfile = -2

	MinOffset = -16
	MaxOffset = 4
)

// Manual returns a profile with the given offset clamped to [MinOffset, MaxOffset].
func Manual(offset int) PowerProfile {
	if offset < MinOffset {
		offset = MinOffset
	}
	if offset > MaxOffset {
		offset = MaxOffset
	}
	return PowerProfile(offset)
}

// Offset returns the frequency offset value.
func (p PowerProfile) Offset() int { return int(p) }

// Encode returns the profileset parameter ("+2", "0", "-16").
func (p PowerProfile) Encode() string {
	if p > 0 {
		return "+" + strconv.Itoa(int(p))
	}
	return strconv.Itoa(int(p))
}

// Name returns the profile name, or "manual" for non-named offsets.
func (p PowerProfile) Name() string {
	switch p {
	case MaxPower:
		return "max_power"
	case Balanced:
		return "balanced"
	case UltraEco:
		return "ultra_eco"
	default:
		return "manual"
	}
}

func (p PowerProfile) String() string {
	if p.Name() == "manual" {
		return "manual(" + p.Encode() + ")"
	}
	return p.Name()
}

// IsNamed reports whether p is one of MaxPower, Balanced or UltraEco.
func (p PowerProfile) IsNamed() bool {
	return p == MaxPower || p == Balanced || p == UltraEco
}

// StepDown returns the next lower named profile. UltraEco and anything below
// it are returned unchanged.
func (p PowerProfile) StepDown() PowerProfile {
	switch {
	case p > MaxPower:
		return MaxPower
	case p > Balanced:
		return Balanced
	case p > UltraEco:
		return UltraEco
	default:
		return p
	}
}

// ParseProfile accepts an offset ("+2", "-16", "0") or a profile name.
// Offsets outside [MinOffset, MaxOffset] are an error, not clamped.
func ParseProfile(s string) (PowerProfile, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "max_power", "max", "maxpower":
		return MaxPower, nil
	case "balanced", "default":
		return Balanced, nil
	case "ultra_eco", "eco", "ultraeco":
		return UltraEco, nil
	}

	n, err := strconv.Atoi(strings.TrimPrefix(s, "+"))
	if err != nil {
		return 0, fmt.Errorf("invalid power profile %q", s)
	}
	if n < MinOffset || n > MaxOffset {
		return 0, fmt.Errorf("power profile offset %d out of range [%d, %d]", n, MinOffset, MaxOffset)
	}
	return PowerProfile(n), nil
}

// ProfileFromScaling converts a performance percentage to a profile offset.
// 100% is the stock profile; each step above is 7.5% and each step below is
// 3.125%.
func ProfileFromScaling(percent float64) PowerProfile {
	switch {
	case percent == 100:
		return Balanced
	case percent > 100:
		return Manual(int(math.Min(MaxOffset, math.Trunc((percent-100)/7.5))))
	default:
		return Manual(int(math.Max(MinOffset, math.Trunc((percent-100)/3.125))))
	}
}

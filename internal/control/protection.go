package control

import "github.com/muurk/solminer/internal/miner"

// ProtectionEvent is the outcome of one temperature observation.
type ProtectionEvent int

const (
	ProtectionIdle ProtectionEvent = iota
	ProtectionTriggered
	ProtectionHeld
	ProtectionReleased
)

func (e ProtectionEvent) String() string {
	switch e {
	case ProtectionTriggered:
		return "triggered"
	case ProtectionHeld:
		return "held"
	case ProtectionReleased:
		return "released"
	default:
		return "idle"
	}
}

// Protection is the temperature hysteresis for one device. It triggers at
// ThresholdC, steps the profile down once and holds that override until the
// temperature falls below ThresholdC-HysteresisC.
type Protection struct {
	ThresholdC  float64
	HysteresisC float64

	active   bool
	target   miner.PowerProfile
	previous miner.PowerProfile
}

// Observe feeds one reading. current is the profile the device runs now.
// A reading of zero or less means no sensor data and never changes state.
func (p *Protection) Observe(tempC float64, current miner.PowerProfile) ProtectionEvent {
	if tempC <= 0 {
		if p.active {
			return ProtectionHeld
		}
		return ProtectionIdle
	}

	if !p.active {
		if tempC >= p.ThresholdC {
			p.active = true
			p.previous = current
			p.target = current.StepDown()
			return ProtectionTriggered
		}
		return ProtectionIdle
	}

	if tempC < p.ThresholdC-p.HysteresisC {
		p.active = false
		return ProtectionReleased
	}
	return ProtectionHeld
}

// Active reports whether the override is in force.
func (p *Protection) Active() bool { return p.active }

// Target is the profile forced while active.
func (p *Protection) Target() miner.PowerProfile { return p.target }

// Previous is the profile the device ran when protection triggered.
func (p *Protection) Previous() miner.PowerProfile { return p.previous }

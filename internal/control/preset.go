package control

import (
	"fmt"
	"strings"

	"github.com/muurk/solminer/internal/solar"
)

// Preset is a named operational mode.
type Preset string

const (
	PresetSolarMax      Preset = "solar_max"
	PresetEcoMode       Preset = "eco_mode"
	PresetNight30       Preset = "night_30"
	PresetNight15       Preset = "night_15"
	PresetStandby       Preset = "standby"
	PresetEmergencyStop Preset = "emergency_stop"
)

// Presets lists every preset in display order.
var Presets = []Preset{PresetSolarMax, PresetEcoMode, PresetNight30, PresetNight15, PresetStandby, PresetEmergencyStop}

// ParsePreset accepts a preset name, case-insensitive, with - or _.
func ParsePreset(s string) (Preset, error) {
	name := Preset(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, p := range Presets {
		if p == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown preset %q", s)
}

// Input returns the manual solar input a preset pins for a miner rated at
// ratedW. Emergency stop and standby pin zero watts.
func (p Preset) Input(ratedW float64) solar.Input {
	switch p {
	case PresetSolarMax:
		return solar.ManualInput(4200)
	case PresetEcoMode:
		return solar.ManualInput(1500)
	case PresetNight30:
		return solar.ManualInput(0.30 * ratedW)
	case PresetNight15:
		return solar.ManualInput(0.15 * ratedW)
	default:
		return solar.ManualInput(0)
	}
}

// Pauses reports whether the preset stops hashing.
func (p Preset) Pauses() bool {
	return p == PresetStandby || p == PresetEmergencyStop
}

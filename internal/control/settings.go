package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultCurtailInterval = 10 * time.Minute
	DefaultThresholdC      = 75.0
	DefaultHysteresisC     = 5.0
	DefaultToleranceW      = 100.0
	DefaultMaxConcurrency  = 4
	DefaultDeviceTimeout   = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRatedPowerW     = 3500.0
	DefaultBoards          = 3
)

// Strategy decides whether the default policy gives up profile steps or
// boards first when solar power is short.
type Strategy string

const (
	StrategyProfileFirst Strategy = "profile_first"
	StrategyBoardsFirst  Strategy = "boards_first"
)

// ParseStrategy accepts profile_first or boards_first. Empty means profile_first.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyProfileFirst:
		return StrategyProfileFirst, nil
	case StrategyBoardsFirst:
		return StrategyBoardsFirst, nil
	default:
		return "", fmt.Errorf("invalid strategy %q (want %s or %s)", s, StrategyProfileFirst, StrategyBoardsFirst)
	}
}

// Settings are the coordinator-wide knobs.
type Settings struct {
	PollInterval    time.Duration
	CurtailInterval time.Duration
	ThresholdC      float64
	HysteresisC     float64
	ToleranceW      float64
	Strategy        Strategy
	DefaultProfile  miner.PowerProfile
	MaxConcurrency  int
	DeviceTimeout   time.Duration
	ShutdownTimeout time.Duration
	Curve           *solar.Curve
}

// DefaultSettings returns the stock cadence and protection values.
func DefaultSettings() Settings {
	return Settings{
		PollInterval:    DefaultPollInterval,
		CurtailInterval: DefaultCurtailInterval,
		ThresholdC:      DefaultThresholdC,
		HysteresisC:     DefaultHysteresisC,
		ToleranceW:      DefaultToleranceW,
		Strategy:        StrategyProfileFirst,
		DefaultProfile:  miner.Balanced,
		MaxConcurrency:  DefaultMaxConcurrency,
		DeviceTimeout:   DefaultDeviceTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Curve:           solar.DefaultCurve(),
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.CurtailInterval <= 0 {
		s.CurtailInterval = d.CurtailInterval
	}
	if s.ThresholdC <= 0 {
		s.ThresholdC = d.ThresholdC
	}
	if s.HysteresisC <= 0 {
		s.HysteresisC = d.HysteresisC
	}
	if s.ToleranceW < 0 {
		s.ToleranceW = 0
	}
	if s.Strategy == "" {
		s.Strategy = d.Strategy
	}
	if s.MaxConcurrency <= 0 {
		s.MaxConcurrency = d.MaxConcurrency
	}
	if s.DeviceTimeout <= 0 {
		s.DeviceTimeout = d.DeviceTimeout
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = d.ShutdownTimeout
	}
	if s.Curve == nil {
		s.Curve = d.Curve
	}
	return s
}

// DeviceSettings describe one managed miner.
type DeviceSettings struct {
	RatedPowerW         float64
	Boards              int
	MinBoards           int
	FrequencyMHz        int
	TempProtection      bool
	AutoPowerManagement bool
	Solar               solar.Input
}

// DefaultDeviceSettings returns a three-board 3.5 kW miner with protection
// and automatic power management enabled, following the solar curve.
func DefaultDeviceSettings() DeviceSettings {
	return DeviceSettings{
		RatedPowerW:         DefaultRatedPowerW,
		Boards:              DefaultBoards,
		TempProtection:      true,
		AutoPowerManagement: true,
		Solar:               solar.CurveInput(solar.DefaultMaxPowerW),
	}
}

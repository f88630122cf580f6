package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

// fakeSurface knows a single device, "garage".
type fakeSurface struct {
	mu    sync.Mutex
	calls []string
	err   error
	cycle *control.CycleResult
}

var _ control.Surface = (*fakeSurface)(nil)

func (s *fakeSurface) do(id, format string, args ...any) (*miner.DeviceStatus, error) {
	if id != "garage" {
		return nil, fmt.Errorf("%w: %q", control.ErrUnknownDevice, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return &miner.DeviceStatus{DeviceID: id, PowerW: 2900}, s.err
}

func (s *fakeSurface) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSurface) Devices() []string { return []string{"garage"} }

func (s *fakeSurface) DeviceState(id string) (control.DeviceView, error) {
	if id != "garage" {
		return control.DeviceView{}, fmt.Errorf("%w: %q", control.ErrUnknownDevice, id)
	}
	return control.DeviceView{ID: id, Protocol: "socket", RatedPowerW: 3500}, nil
}

func (s *fakeSurface) LastCycle() (control.CycleResult, bool) {
	if s.cycle == nil {
		return control.CycleResult{}, false
	}
	return *s.cycle, true
}

func (s *fakeSurface) GetStatus(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.do(id, "status")
}

func (s *fakeSurface) SetPowerProfile(_ context.Context, id string, p miner.PowerProfile) (*miner.DeviceStatus, error) {
	return s.do(id, "profile %s", p.Encode())
}

func (s *fakeSurface) SetBoardEnabled(_ context.Context, id string, board int, enabled bool) (*miner.DeviceStatus, error) {
	return s.do(id, "board %d %v", board, enabled)
}

func (s *fakeSurface) SetFrequency(_ context.Context, id string, mhz int) (*miner.DeviceStatus, error) {
	if mhz <= 0 {
		return nil, miner.NewValidationError("frequency out of range")
	}
	return s.do(id, "frequency %d", mhz)
}

func (s *fakeSurface) SetSolarInput(_ context.Context, id string, in solar.Input) (*miner.DeviceStatus, error) {
	return s.do(id, "solar %s", in)
}

func (s *fakeSurface) ApplyOperationalPreset(_ context.Context, id, preset string) (*miner.DeviceStatus, error) {
	return s.do(id, "preset %s", preset)
}

func (s *fakeSurface) SetAutoPowerManagement(id string, enabled bool) error {
	_, err := s.do(id, "auto_power %v", enabled)
	return err
}

func (s *fakeSurface) SetTempProtection(id string, enabled bool) error {
	_, err := s.do(id, "temp_protection %v", enabled)
	return err
}

func (s *fakeSurface) Pause(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.do(id, "pause")
}

func (s *fakeSurface) Resume(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.do(id, "resume")
}

func (s *fakeSurface) Reboot(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.do(id, "reboot")
}

func (s *fakeSurface) TriggerEmergencyStop(context.Context) control.CycleResult {
	s.mu.Lock()
	s.calls = append(s.calls, "emergency_stop")
	s.mu.Unlock()
	return control.CycleResult{Emergency: true, Devices: []control.DeviceResult{{DeviceID: "garage", Skipped: "emergency stop"}}}
}

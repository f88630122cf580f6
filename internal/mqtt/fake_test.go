package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  string
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	var body string
	switch v := payload.(type) {
	case string:
		body = v
	case []byte:
		body = string(v)
	default:
		body = fmt.Sprint(v)
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: body})
	p.mu.Unlock()
	return doneToken{}
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.topic
	}
	return out
}

func (p *recordingPublisher) last(topic string) (published, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.msgs) - 1; i >= 0; i-- {
		if p.msgs[i].topic == topic {
			return p.msgs[i], true
		}
	}
	return published{}, false
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeSurface records every command it receives.
type fakeSurface struct {
	mu    sync.Mutex
	calls []string
	err   error
}

var _ control.Surface = (*fakeSurface)(nil)

func (s *fakeSurface) record(format string, args ...any) (*miner.DeviceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	return &miner.DeviceStatus{DeviceID: "garage", PowerW: 2100}, s.err
}

func (s *fakeSurface) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSurface) Devices() []string { return []string{"garage"} }

func (s *fakeSurface) DeviceState(id string) (control.DeviceView, error) {
	if id != "garage" {
		return control.DeviceView{}, control.ErrUnknownDevice
	}
	return control.DeviceView{ID: id, AutoPowerManagement: true}, nil
}

func (s *fakeSurface) LastCycle() (control.CycleResult, bool) { return control.CycleResult{}, false }

func (s *fakeSurface) GetStatus(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.record("status %s", id)
}

func (s *fakeSurface) SetPowerProfile(_ context.Context, id string, p miner.PowerProfile) (*miner.DeviceStatus, error) {
	return s.record("profile %s %s", id, p.Encode())
}

func (s *fakeSurface) SetBoardEnabled(_ context.Context, id string, board int, enabled bool) (*miner.DeviceStatus, error) {
	return s.record("board %s %d %v", id, board, enabled)
}

func (s *fakeSurface) SetFrequency(_ context.Context, id string, mhz int) (*miner.DeviceStatus, error) {
	return s.record("frequency %s %d", id, mhz)
}

func (s *fakeSurface) SetSolarInput(_ context.Context, id string, in solar.Input) (*miner.DeviceStatus, error) {
	return s.record("solar %s %s", id, in)
}

func (s *fakeSurface) ApplyOperationalPreset(_ context.Context, id, preset string) (*miner.DeviceStatus, error) {
	return s.record("preset %s %s", id, preset)
}

func (s *fakeSurface) SetAutoPowerManagement(id string, enabled bool) error {
	_, err := s.record("auto_power %s %v", id, enabled)
	return err
}

func (s *fakeSurface) SetTempProtection(id string, enabled bool) error {
	_, err := s.record("temp_protection %s %v", id, enabled)
	return err
}

func (s *fakeSurface) Pause(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.record("pause %s", id)
}

func (s *fakeSurface) Resume(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.record("resume %s", id)
}

func (s *fakeSurface) Reboot(_ context.Context, id string) (*miner.DeviceStatus, error) {
	return s.record("reboot %s", id)
}

func (s *fakeSurface) TriggerEmergencyStop(context.Context) control.CycleResult {
	s.record("emergency_stop")
	return control.CycleResult{
		Emergency: true,
		Devices:   []control.DeviceResult{{DeviceID: "garage", Skipped: "emergency stop"}},
	}
}

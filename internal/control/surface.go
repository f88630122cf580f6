package control

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/solminer/internal/logging"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

// Surface is the command and query interface offered to the API, MQTT
// bridge and CLI. Every device command returns the freshest status it
// could obtain alongside the command error.
type Surface interface {
	Devices() []string
	DeviceState(id string) (DeviceView, error)
	LastCycle() (CycleResult, bool)

	GetStatus(ctx context.Context, id string) (*miner.DeviceStatus, error)
	SetPowerProfile(ctx context.Context, id string, p miner.PowerProfile) (*miner.DeviceStatus, error)
	SetBoardEnabled(ctx context.Context, id string, boardID int, enabled bool) (*miner.DeviceStatus, error)
	SetFrequency(ctx context.Context, id string, mhz int) (*miner.DeviceStatus, error)
	SetSolarInput(ctx context.Context, id string, in solar.Input) (*miner.DeviceStatus, error)
	ApplyOperationalPreset(ctx context.Context, id, preset string) (*miner.DeviceStatus, error)
	SetAutoPowerManagement(id string, enabled bool) error
	SetTempProtection(id string, enabled bool) error
	Pause(ctx context.Context, id string) (*miner.DeviceStatus, error)
	Resume(ctx context.Context, id string) (*miner.DeviceStatus, error)
	Reboot(ctx context.Context, id string) (*miner.DeviceStatus, error)
	TriggerEmergencyStop(ctx context.Context) CycleResult
}

var _ Surface = (*Coordinator)(nil)

// DeviceView is the operator-facing control state of one device.
type DeviceView struct {
	ID                  string        `json:"id"`
	Protocol            string        `json:"protocol"`
	Input               solar.Input   `json:"solar_input"`
	Preset              Preset        `json:"preset,omitempty"`
	Paused              bool          `json:"paused"`
	Emergency           bool          `json:"emergency"`
	Protected           bool          `json:"protected"`
	AutoPowerManagement bool          `json:"auto_power_management"`
	TempProtection      bool          `json:"temp_protection"`
	RatedPowerW         float64       `json:"rated_power_w"`
	LastResult          *DeviceResult `json:"last_result,omitempty"`
}

// DeviceState returns the control state of id.
func (c *Coordinator) DeviceState(id string) (DeviceView, error) {
	m, err := c.lookup(id)
	if err != nil {
		return DeviceView{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return DeviceView{
		ID:                  id,
		Protocol:            m.dev.Protocol().String(),
		Input:               m.input,
		Preset:              m.preset,
		Paused:              m.paused,
		Emergency:           m.emergency,
		Protected:           m.protect.Active(),
		AutoPowerManagement: m.cfg.AutoPowerManagement,
		TempProtection:      m.cfg.TempProtection,
		RatedPowerW:         m.cfg.RatedPowerW,
		LastResult:          m.last,
	}, nil
}

func (c *Coordinator) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.settings.DeviceTimeout)
}

// statusAfter queries status after a command, falling back to the cached
// (stale) status.
func (c *Coordinator) statusAfter(ctx context.Context, m *managed) *miner.DeviceStatus {
	status, err := m.dev.GetStatus(ctx)
	if err != nil {
		return m.dev.LastStatus()
	}
	return status
}

// GetStatus queries the device. On failure the last known status is
// returned, marked stale.
func (c *Coordinator) GetStatus(ctx context.Context, id string) (*miner.DeviceStatus, error) {
	m, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.ioContext(ctx)
	defer cancel()

	status, err := m.dev.GetStatus(ctx)
	if err != nil {
		return m.dev.LastStatus(), err
	}
	return status, nil
}

// command runs fn against one device and returns the status that follows.
func (c *Coordinator) command(ctx context.Context, id, name string, fn func(context.Context, Device) error) (*miner.DeviceStatus, error) {
	m, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.ioContext(ctx)
	defer cancel()

	if err := fn(ctx, m.dev); err != nil {
		logging.Warn("Device command failed",
			zap.String("device", id),
			zap.String("command", name),
			zap.Error(err),
		)
		return m.dev.LastStatus(), err
	}
	logging.Info("Device command applied", zap.String("device", id), zap.String("command", name))
	return c.statusAfter(ctx, m), nil
}

// SetPowerProfile sets the profile directly. With automatic power
// management on, the next curtailment evaluation may change it again.
func (c *Coordinator) SetPowerProfile(ctx context.Context, id string, p miner.PowerProfile) (*miner.DeviceStatus, error) {
	return c.command(ctx, id, "profileset "+p.Encode(), func(ctx context.Context, d Device) error {
		return d.SetPowerProfile(ctx, p)
	})
}

// SetBoardEnabled toggles one board. Requesting the current state is not an
// error.
func (c *Coordinator) SetBoardEnabled(ctx context.Context, id string, boardID int, enabled bool) (*miner.DeviceStatus, error) {
	name := fmt.Sprintf("disableboard %d", boardID)
	if enabled {
		name = fmt.Sprintf("enableboard %d", boardID)
	}
	return c.command(ctx, id, name, func(ctx context.Context, d Device) error {
		_, err := d.SetBoardEnabled(ctx, boardID, enabled)
		return err
	})
}

// SetFrequency sets the absolute chip frequency in MHz.
func (c *Coordinator) SetFrequency(ctx context.Context, id string, mhz int) (*miner.DeviceStatus, error) {
	return c.command(ctx, id, fmt.Sprintf("frequencyset %d", mhz), func(ctx context.Context, d Device) error {
		return d.SetFrequency(ctx, mhz)
	})
}

// Reboot restarts the miner.
func (c *Coordinator) Reboot(ctx context.Context, id string) (*miner.DeviceStatus, error) {
	m, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.ioContext(ctx)
	defer cancel()

	// the device drops off the network right away, so no status refresh
	if err := m.dev.Reboot(ctx); err != nil {
		return m.dev.LastStatus(), err
	}
	logging.Info("Device reboot requested", zap.String("device", id))
	return m.dev.LastStatus(), nil
}

// SetSolarInput replaces the device's solar input, clears any preset and
// re-evaluates immediately.
func (c *Coordinator) SetSolarInput(ctx context.Context, id string, in solar.Input) (*miner.DeviceStatus, error) {
	m, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	in.ManualWatts = solar.ClampWatts(in.ManualWatts)
	if in.Mode == solar.ModeCurve && in.MaxPowerW <= 0 {
		m.mu.Lock()
		in.MaxPowerW = m.cfg.Solar.MaxPowerW
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.input = in
	if !m.preset.Pauses() {
		m.preset = ""
	}
	m.forceEval = true
	m.mu.Unlock()

	logging.Info("Solar input changed", zap.String("device", id), zap.Stringer("input", in))
	res := c.runOnce(ctx, m)
	return res.Status, res.Err()
}

// ApplyOperationalPreset pins the solar input for a named preset and
// re-evaluates. Standby pauses hashing, any other preset resumes it, and
// emergency_stop runs the emergency stop for this device only.
func (c *Coordinator) ApplyOperationalPreset(ctx context.Context, id, name string) (*miner.DeviceStatus, error) {
	m, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	p, err := ParsePreset(name)
	if err != nil {
		return nil, miner.NewValidationError(err.Error())
	}
	if p == PresetEmergencyStop {
		res := c.emergencyStop(ctx, m)
		return res.Status, res.Err()
	}

	m.mu.Lock()
	wasPaused := m.paused
	m.input = p.Input(m.cfg.RatedPowerW)
	m.preset = p
	m.emergency = false
	m.forceEval = true
	m.mu.Unlock()

	logging.Info("Operational preset applied", zap.String("device", id), zap.String("preset", string(p)))

	var errs []error
	ioCtx, cancel := c.ioContext(ctx)
	switch {
	case p.Pauses() && !wasPaused:
		if err := m.dev.Pause(ioCtx); err != nil {
			errs = append(errs, fmt.Errorf("pause: %w", err))
		} else {
			m.setPaused(true)
		}
	case !p.Pauses() && wasPaused:
		if err := m.dev.Resume(ioCtx); err != nil {
			errs = append(errs, fmt.Errorf("resume: %w", err))
		} else {
			m.setPaused(false)
		}
	}
	cancel()

	res := c.runOnce(ctx, m)
	return res.Status, errors.Join(append(errs, res.Err())...)
}

// SetAutoPowerManagement toggles solar-driven control for id. Turning it on
// forces an evaluation on the next cycle.
func (c *Coordinator) SetAutoPowerManagement(id string, enabled bool) error {
	m, err := c.lookup(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.AutoPowerManagement = enabled
	if enabled {
		m.forceEval = true
	}
	return nil
}

// SetTempProtection toggles temperature protection for id. Turning it off
// drops an active override.
func (c *Coordinator) SetTempProtection(id string, enabled bool) error {
	m, err := c.lookup(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.TempProtection = enabled
	if !enabled {
		m.protect = Protection{ThresholdC: c.settings.ThresholdC, HysteresisC: c.settings.HysteresisC}
	}
	return nil
}

// Pause stops hashing on id.
func (c *Coordinator) Pause(ctx context.Context, id string) (*miner.DeviceStatus, error) {
	status, err := c.command(ctx, id, "pause", func(ctx context.Context, d Device) error {
		return d.Pause(ctx)
	})
	if err == nil {
		if m, lerr := c.lookup(id); lerr == nil {
			m.setPaused(true)
		}
	}
	return status, err
}

// Resume restarts hashing on id and clears a latched emergency stop. The
// policy is re-evaluated on the next cycle so disabled boards come back.
func (c *Coordinator) Resume(ctx context.Context, id string) (*miner.DeviceStatus, error) {
	status, err := c.command(ctx, id, "resume", func(ctx context.Context, d Device) error {
		return d.Resume(ctx)
	})
	if err != nil {
		return status, err
	}
	m, err := c.lookup(id)
	if err != nil {
		return status, err
	}
	m.mu.Lock()
	m.paused = false
	if m.emergency || m.preset.Pauses() {
		m.emergency = false
		m.preset = ""
		m.input = m.cfg.Solar
	}
	m.forceEval = true
	m.mu.Unlock()
	return status, nil
}

func (m *managed) setPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
}

// TriggerEmergencyStop disables every configured board on every device,
// then pauses and curtails to zero. Commands are sent unconditionally,
// whatever the device currently reports, and the stop stays latched until
// Resume or another preset.
func (c *Coordinator) TriggerEmergencyStop(ctx context.Context) CycleResult {
	start := c.now()
	devices := c.snapshot()
	results := make([]DeviceResult, len(devices))

	logging.Warn("Emergency stop triggered", zap.Int("devices", len(devices)))

	g := new(errgroup.Group)
	g.SetLimit(c.settings.MaxConcurrency)
	for i, m := range devices {
		g.Go(func() error {
			results[i] = c.emergencyStop(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	cycle := CycleResult{
		StartedAt: start,
		Duration:  c.now().Sub(start),
		Emergency: true,
		Devices:   results,
	}
	c.publish(cycle, true)
	return cycle
}

func (c *Coordinator) emergencyStop(ctx context.Context, m *managed) DeviceResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.DeviceTimeout)
	defer cancel()

	m.mu.Lock()
	m.emergency = true
	m.paused = true
	m.preset = PresetEmergencyStop
	m.input = PresetEmergencyStop.Input(m.cfg.RatedPowerW)
	m.mu.Unlock()

	// Wait out an in-flight sequence. It sees the latch and stops early, so
	// the disables below are the last commands the device gets.
	m.seq.Lock()
	defer m.seq.Unlock()

	res := DeviceResult{DeviceID: m.dev.ID(), Skipped: "emergency stop"}
	for _, id := range m.boardIDs() {
		res.record(fmt.Sprintf("disableboard %d", id), m.dev.ForceBoardEnabled(ctx, id, false))
	}
	res.record("pause", m.dev.Pause(ctx))
	res.record("curtail 0", m.dev.Throttle(ctx, 0))
	res.Status = m.dev.LastStatus()

	if len(res.Errors) > 0 {
		logging.Error("Emergency stop incomplete",
			zap.String("device", res.DeviceID),
			zap.Strings("failed", res.Failed()),
		)
	}
	m.store(res)
	return res
}

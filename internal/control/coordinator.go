package control

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/solminer/internal/logging"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
)

// ErrUnknownDevice is returned for ids that were never registered.
var ErrUnknownDevice = errors.New("unknown device")

// managed is one registered device and its cycle state.
type managed struct {
	dev     Device
	running atomic.Bool
	// seq is held while a command sequence is sent to dev
	seq sync.Mutex

	mu        sync.Mutex
	cfg       DeviceSettings
	input     solar.Input
	preset    Preset
	paused    bool
	emergency bool
	protect   Protection
	lastEval  time.Time
	forceEval bool
	last      *DeviceResult
}

// Coordinator runs the control loop over a fixed set of devices.
type Coordinator struct {
	// Policy decides desired state from available power. Defaults to
	// DefaultPolicy.
	Policy Policy

	settings Settings

	mu        sync.RWMutex
	devices   map[string]*managed
	order     []string
	listeners []func(CycleResult)
	lastCycle *CycleResult

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a coordinator with no devices.
func New(settings Settings) *Coordinator {
	return &Coordinator{
		Policy:   DefaultPolicy{},
		settings: settings.withDefaults(),
		devices:  make(map[string]*managed),
		now:      time.Now,
	}
}

// Settings returns the effective settings.
func (c *Coordinator) Settings() Settings { return c.settings }

// Register adds a device. Ids must be unique.
func (c *Coordinator) Register(dev Device, cfg DeviceSettings) error {
	id := dev.ID()
	if id == "" {
		return miner.NewValidationError("device id must not be empty")
	}
	if cfg.RatedPowerW <= 0 {
		cfg.RatedPowerW = DefaultRatedPowerW
	}
	if cfg.Boards < 0 {
		cfg.Boards = 0
	}
	cfg.Solar.ManualWatts = solar.ClampWatts(cfg.Solar.ManualWatts)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.devices[id]; dup {
		return miner.NewValidationError(fmt.Sprintf("device %q registered twice", id))
	}
	c.devices[id] = &managed{
		dev:     dev,
		cfg:     cfg,
		input:   cfg.Solar,
		protect: Protection{ThresholdC: c.settings.ThresholdC, HysteresisC: c.settings.HysteresisC},
	}
	c.order = append(c.order, id)
	sort.Strings(c.order)
	return nil
}

// Devices returns registered ids in sorted order.
func (c *Coordinator) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// OnCycle registers fn to receive every cycle result, including the
// single-device results of on-demand runs. fn must not block.
func (c *Coordinator) OnCycle(fn func(CycleResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// LastCycle returns the most recent full cycle.
func (c *Coordinator) LastCycle() (CycleResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastCycle == nil {
		return CycleResult{}, false
	}
	return *c.lastCycle, true
}

func (c *Coordinator) lookup(id string) (*managed, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	return m, nil
}

func (c *Coordinator) snapshot() []*managed {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*managed, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.devices[id])
	}
	return out
}

func (c *Coordinator) publish(cycle CycleResult, full bool) {
	c.mu.Lock()
	if full {
		c.lastCycle = &cycle
	}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(cycle)
	}
}

// Run polls every PollInterval until ctx is cancelled. A cancelled context
// stops new cycles and new devices but lets in-flight command sequences
// finish. Sessions are closed before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	logging.Info("Control loop started",
		zap.Int("devices", len(c.Devices())),
		zap.Duration("poll_interval", c.settings.PollInterval),
		zap.Duration("curtail_interval", c.settings.CurtailInterval),
	)

	ticker := time.NewTicker(c.settings.PollInterval)
	defer ticker.Stop()

	c.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), c.settings.ShutdownTimeout)
			defer cancel()
			err := c.Shutdown(shutdownCtx)
			logging.Info("Control loop stopped")
			return err
		case <-ticker.C:
			c.launch(ctx)
		}
	}
}

func (c *Coordinator) launch(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.RunCycle(ctx)
	}()
}

// RunCycle runs one control pass over every device. Devices run
// concurrently up to MaxConcurrency; a device whose previous cycle is still
// running is skipped.
func (c *Coordinator) RunCycle(ctx context.Context) CycleResult {
	start := c.now()
	devices := c.snapshot()
	results := make([]*DeviceResult, len(devices))

	g := new(errgroup.Group)
	g.SetLimit(c.settings.MaxConcurrency)
	for i, m := range devices {
		if ctx.Err() != nil {
			break
		}
		if !m.running.CompareAndSwap(false, true) {
			logging.Debug("Skipping device, previous cycle still running", zap.String("device", m.dev.ID()))
			results[i] = &DeviceResult{DeviceID: m.dev.ID(), Skipped: "previous cycle still running"}
			continue
		}
		g.Go(func() error {
			defer m.running.Store(false)
			if ctx.Err() != nil {
				return nil
			}
			r := c.runDevice(ctx, m, start)
			results[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	cycle := CycleResult{StartedAt: start, Duration: c.now().Sub(start)}
	for _, r := range results {
		if r != nil {
			cycle.Devices = append(cycle.Devices, *r)
		}
	}
	c.publish(cycle, true)
	return cycle
}

// runOnce runs one device outside the ticker. If a cycle for the device is
// in flight the request is folded into the next one.
func (c *Coordinator) runOnce(ctx context.Context, m *managed) DeviceResult {
	if !m.running.CompareAndSwap(false, true) {
		return DeviceResult{DeviceID: m.dev.ID(), Skipped: "cycle in progress", Status: m.dev.LastStatus()}
	}
	defer m.running.Store(false)

	start := c.now()
	r := c.runDevice(ctx, m, start)
	c.publish(CycleResult{StartedAt: start, Duration: c.now().Sub(start), Devices: []DeviceResult{r}}, false)
	return r
}

// decision is the synchronous part of a device cycle.
type decision struct {
	available float64
	event     ProtectionEvent
	desired   *DesiredState
	skip      string
}

func (c *Coordinator) runDevice(ctx context.Context, m *managed, now time.Time) DeviceResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.DeviceTimeout)
	defer cancel()

	res := DeviceResult{DeviceID: m.dev.ID()}
	status, err := m.dev.GetStatus(ctx)
	if err != nil {
		logging.Warn("Status query failed, skipping control",
			zap.String("device", res.DeviceID),
			zap.String("reason", miner.GetShortErrorMessage(err)),
			zap.Error(err),
		)
		res.addError(err)
		res.Skipped = "status unavailable"
		res.Status = m.dev.LastStatus()
		m.store(res)
		return res
	}
	res.Queried = true
	res.Status = status

	d := c.decide(m, status, now)
	res.AvailableW = d.available
	res.SolarUtilization = utilization(status.PowerW, d.available)
	res.Protection = d.event.String()
	res.Desired = d.desired
	if d.skip != "" {
		res.Skipped = d.skip
		m.store(res)
		return res
	}

	if d.desired != nil {
		c.apply(ctx, m, Plan(*d.desired, status), &res)
	}

	if len(res.Commands) > 0 {
		logging.Info("Control commands issued",
			zap.String("device", res.DeviceID),
			zap.Strings("succeeded", res.Succeeded()),
			zap.Strings("failed", res.Failed()),
			zap.String("reason", d.desired.Reason),
		)
	}
	m.store(res)
	return res
}

// apply sends cmds in order. An emergency stop latched mid-sequence drops
// the remaining commands.
func (c *Coordinator) apply(ctx context.Context, m *managed, cmds []Command, res *DeviceResult) {
	m.seq.Lock()
	defer m.seq.Unlock()

	for i, cmd := range cmds {
		if m.stopped() {
			logging.Warn("Emergency stop latched, dropping planned commands",
				zap.String("device", res.DeviceID),
				zap.Int("dropped", len(cmds)-i),
			)
			res.Skipped = "emergency stop"
			return
		}
		issued, err := execute(ctx, m.dev, cmd)
		if err == nil && !issued {
			continue
		}
		res.record(cmd.String(), err)
	}
}

func (m *managed) stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}

// decide applies protection and, when due, the policy.
func (c *Coordinator) decide(m *managed, status *miner.DeviceStatus, now time.Time) decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := decision{available: m.input.Available(now, c.settings.Curve), event: ProtectionIdle}
	if m.emergency {
		d.skip = "emergency stop active"
		return d
	}

	current := c.settings.DefaultProfile
	if status.ProfileKnown {
		current = status.Profile
	}
	temp := status.MaxBoardTemp()
	if m.cfg.TempProtection {
		d.event = m.protect.Observe(temp, current)
	}

	switch d.event {
	case ProtectionTriggered, ProtectionHeld:
		if d.event == ProtectionTriggered {
			logging.Warn("Temperature protection triggered",
				zap.String("device", m.dev.ID()),
				zap.Float64("temp_c", temp),
				zap.String("from", m.protect.Previous().String()),
				zap.String("to", m.protect.Target().String()),
			)
		}
		d.desired = &DesiredState{
			Profile: m.protect.Target(),
			Reason:  fmt.Sprintf("temperature protection at %.1f C", temp),
		}
		return d
	case ProtectionReleased:
		logging.Info("Temperature protection released",
			zap.String("device", m.dev.ID()),
			zap.Float64("temp_c", temp),
		)
		if !m.cfg.AutoPowerManagement && !m.forceEval {
			d.desired = &DesiredState{
				Profile: m.protect.Previous(),
				Reason:  "temperature protection released",
			}
			return d
		}
		m.forceEval = true
	}

	due := m.forceEval ||
		(m.cfg.AutoPowerManagement && (m.lastEval.IsZero() || now.Sub(m.lastEval) >= c.settings.CurtailInterval))
	if !due {
		return d
	}
	m.forceEval = false
	m.lastEval = now

	desired := c.Policy.Desired(PolicyInput{
		AvailableW:   d.available,
		ToleranceW:   c.settings.ToleranceW,
		RatedPowerW:  m.cfg.RatedPowerW,
		Boards:       status.Boards,
		BoardCount:   m.cfg.Boards,
		MinBoards:    m.cfg.MinBoards,
		FrequencyMHz: m.cfg.FrequencyMHz,
		Strategy:     c.settings.Strategy,
	})
	d.desired = &desired
	return d
}

func (m *managed) store(res DeviceResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &res
}

// boardIDs is every configured board plus any the device reported.
func (m *managed) boardIDs() []int {
	seen := make(map[int]bool)
	for i := 0; i < m.cfg.Boards; i++ {
		seen[i] = true
	}
	if st := m.dev.LastStatus(); st != nil {
		for _, b := range st.Boards {
			seen[b.ID] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Shutdown closes every device client, logging off HTTP sessions.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var errs []error
	for _, m := range c.snapshot() {
		if err := m.dev.Close(ctx); err != nil {
			logging.Warn("Closing device failed", zap.String("device", m.dev.ID()), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", m.dev.ID(), err))
		}
	}
	return errors.Join(errs...)
}

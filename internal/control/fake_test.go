package control

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/muurk/solminer/internal/miner"
)

// fakeDevice is a scripted miner that applies commands to its own status.
type fakeDevice struct {
	id string

	mu        sync.Mutex
	status    *miner.DeviceStatus
	statusErr error
	cmdErrs   map[string]error
	calls     []string

	// when set, GetStatus signals entered and waits on gate
	gate    chan struct{}
	entered chan struct{}

	// same for SetPowerProfile
	profileGate    chan struct{}
	profileEntered chan struct{}
}

var _ Device = (*fakeDevice)(nil)

func newFakeDevice(id string, status *miner.DeviceStatus) *fakeDevice {
	status.DeviceID = id
	return &fakeDevice{id: id, status: status, cmdErrs: map[string]error{}}
}

// threeBoards returns a status with boards 0-2 at 60 C running Balanced.
func threeBoards(enabled ...bool) *miner.DeviceStatus {
	st := &miner.DeviceStatus{
		PowerW:       3000,
		Profile:      miner.Balanced,
		ProfileKnown: true,
		Healthy:      true,
	}
	for i := 0; i < 3; i++ {
		on := true
		if i < len(enabled) {
			on = enabled[i]
		}
		st.Boards = append(st.Boards, miner.Board{ID: i, Enabled: on, Temperature: 60})
	}
	return st
}

func (f *fakeDevice) ID() string               { return f.id }
func (f *fakeDevice) Protocol() miner.Protocol { return miner.ProtocolSocket }

func (f *fakeDevice) GetStatus(context.Context) (*miner.DeviceStatus, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status.Clone(), nil
}

func (f *fakeDevice) LastStatus() *miner.DeviceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status.Clone()
	st.Stale = true
	return st
}

func (f *fakeDevice) setTemp(c float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.status.Boards {
		f.status.Boards[i].Temperature = c
	}
}

func (f *fakeDevice) setStatusErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

func (f *fakeDevice) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDevice) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// call records name and returns its scripted error. Caller holds mu.
func (f *fakeDevice) call(name string) error {
	f.calls = append(f.calls, name)
	return f.cmdErrs[name]
}

func (f *fakeDevice) SetPowerProfile(_ context.Context, p miner.PowerProfile) error {
	f.mu.Lock()
	gate, entered := f.profileGate, f.profileEntered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("profileset " + p.Encode()); err != nil {
		return err
	}
	f.status.Profile = p
	f.status.ProfileKnown = true
	return nil
}

func (f *fakeDevice) setBoard(id int, enabled bool) error {
	name := fmt.Sprintf("disableboard %d", id)
	if enabled {
		name = fmt.Sprintf("enableboard %d", id)
	}
	if err := f.call(name); err != nil {
		return err
	}
	for i := range f.status.Boards {
		if f.status.Boards[i].ID == id {
			f.status.Boards[i].Enabled = enabled
		}
	}
	return nil
}

func (f *fakeDevice) SetBoardEnabled(_ context.Context, id int, enabled bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.status.Board(id); ok && b.Enabled == enabled {
		return false, nil
	}
	return true, f.setBoard(id, enabled)
}

func (f *fakeDevice) ForceBoardEnabled(_ context.Context, id int, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setBoard(id, enabled)
}

func (f *fakeDevice) SetFrequency(_ context.Context, mhz int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(fmt.Sprintf("frequencyset %d", mhz)); err != nil {
		return err
	}
	f.status.FrequencyMHz = float64(mhz)
	return nil
}

func (f *fakeDevice) Curtail(_ context.Context, watts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.call(fmt.Sprintf("power %d", watts))
}

func (f *fakeDevice) Throttle(_ context.Context, fraction float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.call(fmt.Sprintf("curtail %d", int(math.Round(fraction*100))))
}

func (f *fakeDevice) simple(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.call(name)
}

func (f *fakeDevice) Pause(context.Context) error  { return f.simple("pause") }
func (f *fakeDevice) Resume(context.Context) error { return f.simple("resume") }
func (f *fakeDevice) Reboot(context.Context) error { return f.simple("reboot") }
func (f *fakeDevice) Close(context.Context) error  { return f.simple("close") }

package control

import (
	"errors"
	"time"

	"github.com/muurk/solminer/internal/miner"
)

// CommandOutcome records one issued command.
type CommandOutcome struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
	err   error
}

// Err returns the command error, if any.
func (o CommandOutcome) Err() error { return o.err }

// OK reports whether the command succeeded.
func (o CommandOutcome) OK() bool { return o.Error == "" }

func outcome(name string, err error) CommandOutcome {
	o := CommandOutcome{Name: name, err: err}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// DeviceResult is one device's share of a control cycle.
type DeviceResult struct {
	DeviceID         string              `json:"device_id"`
	Queried          bool                `json:"queried"`
	Commands         []CommandOutcome    `json:"commands"`
	Errors           []string            `json:"errors,omitempty"`
	Skipped          string              `json:"skipped,omitempty"`
	Protection       string              `json:"protection,omitempty"`
	Desired          *DesiredState       `json:"desired,omitempty"`
	AvailableW       float64             `json:"available_w"`
	SolarUtilization float64             `json:"solar_utilization_pct"`
	Status           *miner.DeviceStatus `json:"status,omitempty"`

	errs []error
}

func (r *DeviceResult) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
	r.errs = append(r.errs, err)
}

// Err joins every error recorded for the device.
func (r DeviceResult) Err() error {
	return errors.Join(r.errs...)
}

func (r *DeviceResult) record(name string, err error) {
	r.Commands = append(r.Commands, outcome(name, err))
	if err != nil {
		r.addError(err)
	}
}

// Succeeded lists the commands that went through.
func (r DeviceResult) Succeeded() []string {
	var names []string
	for _, c := range r.Commands {
		if c.OK() {
			names = append(names, c.Name)
		}
	}
	return names
}

// Failed lists the commands that did not.
func (r DeviceResult) Failed() []string {
	var names []string
	for _, c := range r.Commands {
		if !c.OK() {
			names = append(names, c.Name)
		}
	}
	return names
}

// Partial reports whether a desired state was applied only in part.
func (r DeviceResult) Partial() bool {
	return len(r.Succeeded()) > 0 && len(r.Failed()) > 0
}

// OK reports whether status was read and every command succeeded.
func (r DeviceResult) OK() bool {
	return r.Queried && len(r.Errors) == 0
}

// CycleResult is the outcome of one coordinator pass.
type CycleResult struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Emergency bool           `json:"emergency,omitempty"`
	Devices   []DeviceResult `json:"devices"`
}

// Device returns the result for id.
func (c CycleResult) Device(id string) (DeviceResult, bool) {
	for _, d := range c.Devices {
		if d.DeviceID == id {
			return d, true
		}
	}
	return DeviceResult{}, false
}

// utilization is draw as a percentage of available solar power, capped at 100.
func utilization(drawW, availableW float64) float64 {
	if availableW <= 0 {
		return 0
	}
	u := drawW / availableW * 100
	if u > 100 {
		return 100
	}
	return u
}

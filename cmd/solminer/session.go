package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/solminer/internal/config"
	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/ui"
)

// closeTimeout bounds logging off HTTP sessions when a command exits.
const closeTimeout = 5 * time.Second

// session is the per-invocation state of a device command: the loaded
// configuration and a coordinator that owns one client per device.
type session struct {
	cfg     *config.Config
	coord   *control.Coordinator
	printer *ui.Printer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("no devices configured in %s (run 'solminer config init' or 'solminer scan')", describePath(cfg))
	}
	return cfg, nil
}

func describePath(cfg *config.Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return "the environment"
}

// openSession loads the configuration and registers every device. No device
// I/O happens until a command runs.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	coord := control.New(cfg.Settings())
	for _, d := range cfg.Devices {
		if err := coord.Register(cfg.NewClient(d), d.DeviceSettings()); err != nil {
			return nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
	}
	return &session{cfg: cfg, coord: coord, printer: ui.NewPrinter(cmd.OutOrStdout())}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = s.coord.Shutdown(ctx)
}

// device checks id against the configured devices.
func (s *session) device(id string) (config.DeviceConfig, error) {
	d, ok := s.cfg.Device(id)
	if !ok {
		return config.DeviceConfig{}, fmt.Errorf("%w: %q (configured: %s)", control.ErrUnknownDevice, id, strings.Join(s.coord.Devices(), ", "))
	}
	return d, nil
}

// directClient returns a standalone client for commands outside the
// control surface (fan, power target, curtail). The caller closes it.
func (s *session) directClient(id string) (*miner.DeviceClient, error) {
	d, err := s.device(id)
	if err != nil {
		return nil, err
	}
	return s.cfg.NewClient(d), nil
}

// report prints the outcome of a device command: the status that followed
// on success, a failure box otherwise.
func (s *session) report(title string, status *miner.DeviceStatus, err error, details ...ui.Param) error {
	if jsonOutput {
		if err != nil {
			return err
		}
		return s.printJSON(status)
	}
	if err != nil {
		s.printer.PrintError(title+" failed", err)
		if status != nil {
			s.printer.PrintStatus(status)
		}
		return err
	}
	s.printer.PrintSuccess(title, details...)
	if status != nil {
		s.printer.PrintStatus(status)
	}
	return nil
}

func (s *session) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	s.printer.Println(string(data))
	return nil
}

// parseOnOff accepts on/off, enable/disable and the strconv bool forms.
func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "enable", "enabled":
		return true, nil
	case "off", "disable", "disabled":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, miner.NewValidationError(fmt.Sprintf("invalid switch %q (want on or off)", s))
	}
	return b, nil
}

func parseInt(name, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, miner.NewValidationError(fmt.Sprintf("invalid %s %q", name, s))
	}
	return n, nil
}

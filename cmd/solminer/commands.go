package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
	"github.com/muurk/solminer/internal/solar"
	"github.com/muurk/solminer/internal/ui"
)

// Command flags
var (
	assumeYes     bool
	watchInterval time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(frequencyCmd)
	rootCmd.AddCommand(solarCmd)
	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(curtailCmd)
	rootCmd.AddCommand(fanCmd)
	rootCmd.AddCommand(presetCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(emergencyStopCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(watchCmd)

	rebootCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	emergencyStopCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "Refresh interval")
}

// withSession opens a session for the duration of fn.
func withSession(fn func(ctx context.Context, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(cmd.Context(), s, args)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status [device...]",
	Short: "Show miner status",
	Long: `Query one or more miners and show hashrate, power, profile, temperatures
and per-board state. Without arguments every configured miner is queried.`,
	Example: `  # All miners
  solminer status

  # One miner, as JSON
  solminer status garage --json`,
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		ids := args
		if len(ids) == 0 {
			ids = s.coord.Devices()
		}

		var (
			statuses []*miner.DeviceStatus
			failed   int
		)
		for _, id := range ids {
			status, err := s.coord.GetStatus(ctx, id)
			if err != nil {
				failed++
				if jsonOutput {
					if status != nil {
						statuses = append(statuses, status)
					}
					continue
				}
				s.printer.PrintError("Status of "+id+" unavailable", err)
				if status != nil {
					s.printer.PrintStatus(status)
				}
				continue
			}
			statuses = append(statuses, status)
			if !jsonOutput {
				s.printer.PrintStatus(status)
			}
		}

		if jsonOutput {
			if err := s.printJSON(statuses); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d miners did not answer", failed, len(ids))
		}
		return nil
	}),
}

var profileCmd = &cobra.Command{
	Use:   "profile <device> <profile>",
	Short: "Set the power profile",
	Long: `Set the miner power profile. Named profiles are max_power (+2),
balanced (0) and ultra_eco (-2); a signed offset such as +1 or -8 is also
accepted.

With automatic power management on, the daemon may change the profile again
at its next curtailment evaluation.`,
	Example: `  solminer profile garage eco
  solminer profile garage -4`,
	Args: cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		p, err := miner.ParseProfile(args[1])
		if err != nil {
			return err
		}
		status, err := s.coord.SetPowerProfile(ctx, args[0], p)
		return s.report("Power profile applied", status, err,
			ui.Param{Key: "Device", Value: args[0]},
			ui.Param{Key: "Profile", Value: fmt.Sprintf("%s (%s)", p, p.Encode())},
		)
	}),
}

var boardCmd = &cobra.Command{
	Use:   "board <device> <board> <on|off>",
	Short: "Enable or disable a hash board",
	Long: `Enable or disable one hash board. Nothing is sent when the board is
already in the requested state.`,
	Example: `  solminer board garage 2 off`,
	Args:    cobra.ExactArgs(3),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		board, err := parseInt("board", args[1])
		if err != nil {
			return err
		}
		enabled, err := parseOnOff(args[2])
		if err != nil {
			return err
		}
		status, err := s.coord.SetBoardEnabled(ctx, args[0], board, enabled)
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return s.report(fmt.Sprintf("Board %d %s", board, state), status, err,
			ui.Param{Key: "Device", Value: args[0]},
		)
	}),
}

var frequencyCmd = &cobra.Command{
	Use:   "frequency <device> <mhz>",
	Short: "Set the chip frequency",
	Long:  fmt.Sprintf(`Set the absolute chip frequency in MHz (1 to %d).`, miner.MaxFrequencyMHz),
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		mhz, err := parseInt("frequency", args[1])
		if err != nil {
			return err
		}
		status, err := s.coord.SetFrequency(ctx, args[0], mhz)
		return s.report("Frequency applied", status, err,
			ui.Param{Key: "Device", Value: args[0]},
			ui.Param{Key: "Frequency", Value: fmt.Sprintf("%d MHz", mhz)},
		)
	}),
}

var solarCmd = &cobra.Command{
	Use:   "solar <device> <watts|curve>",
	Short: "Set the solar input and re-evaluate",
	Long: `Pin the available solar power to a fixed wattage, or hand it back to the
daily solar curve, then run one control evaluation for the miner.`,
	Example: `  # Pretend 1.8 kW is available
  solminer solar garage 1800

  # Follow the solar curve again
  solminer solar garage curve`,
	Args: cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		in, err := solar.ParseInput(args[1])
		if err != nil {
			return miner.NewValidationError(err.Error())
		}
		status, err := s.coord.SetSolarInput(ctx, args[0], in)
		return s.report("Solar input applied", status, err,
			ui.Param{Key: "Device", Value: args[0]},
			ui.Param{Key: "Input", Value: in.String()},
		)
	}),
}

var powerCmd = &cobra.Command{
	Use:   "power <device> <watts>",
	Short: "Set an absolute power target",
	Long:  `Ask the firmware to hold the given power draw (the "power" API command).`,
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		watts, err := parseInt("watts", strings.TrimSuffix(strings.ToLower(args[1]), "w"))
		if err != nil {
			return err
		}
		return s.direct(ctx, args[0], "Power target applied", func(ctx context.Context, c *miner.DeviceClient) error {
			return c.Curtail(ctx, watts)
		}, ui.Param{Key: "Target", Value: fmt.Sprintf("%d W", watts)})
	}),
}

var curtailCmd = &cobra.Command{
	Use:   "curtail <device> <percent>",
	Short: "Curtail hashing by a percentage",
	Long:  `Reduce hashing to the given percentage of nominal (the "curtail" API command).`,
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		pct, err := parseInt("percent", strings.TrimSuffix(args[1], "%"))
		if err != nil {
			return err
		}
		if pct < 0 || pct > 100 {
			return miner.NewValidationError(fmt.Sprintf("percent %d out of range 0-100", pct))
		}
		return s.direct(ctx, args[0], "Curtailment applied", func(ctx context.Context, c *miner.DeviceClient) error {
			return c.Throttle(ctx, float64(pct)/100)
		}, ui.Param{Key: "Level", Value: strconv.Itoa(pct) + "%"})
	}),
}

var fanCmd = &cobra.Command{
	Use:   "fan <device> <percent>",
	Short: "Set the fan speed",
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		pct, err := parseInt("percent", strings.TrimSuffix(args[1], "%"))
		if err != nil {
			return err
		}
		return s.direct(ctx, args[0], "Fan speed applied", func(ctx context.Context, c *miner.DeviceClient) error {
			return c.SetFanSpeed(ctx, pct)
		}, ui.Param{Key: "Fan", Value: strconv.Itoa(pct) + "%"})
	}),
}

// direct runs fn on a standalone client, then reports the status that
// follows.
func (s *session) direct(ctx context.Context, id, title string, fn func(context.Context, *miner.DeviceClient) error, details ...ui.Param) error {
	client, err := s.directClient(id)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	if err := fn(ctx, client); err != nil {
		return s.report(title, client.LastStatus(), err)
	}
	status, err := client.GetStatus(ctx)
	if err != nil {
		status = client.LastStatus()
	}
	return s.report(title, status, nil, append([]ui.Param{{Key: "Device", Value: id}}, details...)...)
}

var presetCmd = &cobra.Command{
	Use:   "preset <device> <preset>",
	Short: "Apply an operational preset",
	Long: `Apply a named operational preset:

  solar_max       pin 4200 W of solar input
  eco_mode        pin 1500 W
  night_30        30% of rated power
  night_15        15% of rated power
  standby         0 W and pause hashing
  emergency_stop  disable every board, pause and curtail to zero`,
	Args: cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		status, err := s.coord.ApplyOperationalPreset(ctx, args[0], args[1])
		return s.report("Preset applied", status, err,
			ui.Param{Key: "Device", Value: args[0]},
			ui.Param{Key: "Preset", Value: args[1]},
		)
	}),
}

var pauseCmd = &cobra.Command{
	Use:   "pause <device>",
	Short: "Pause hashing",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		status, err := s.coord.Pause(ctx, args[0])
		return s.report("Mining paused", status, err, ui.Param{Key: "Device", Value: args[0]})
	}),
}

var resumeCmd = &cobra.Command{
	Use:   "resume <device>",
	Short: "Resume hashing",
	Long: `Resume hashing and hand the miner back to automatic control. This also
clears an emergency stop for the miner.`,
	Args: cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		status, err := s.coord.Resume(ctx, args[0])
		return s.report("Mining resumed", status, err, ui.Param{Key: "Device", Value: args[0]})
	}),
}

var rebootCmd = &cobra.Command{
	Use:   "reboot <device>",
	Short: "Reboot a miner",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		if _, err := s.device(args[0]); err != nil {
			return err
		}
		if !assumeYes && !ui.RebootConfirmation(args[0]) {
			return nil
		}
		status, err := s.coord.Reboot(ctx, args[0])
		return s.report("Reboot requested", status, err, ui.Param{Key: "Device", Value: args[0]})
	}),
}

var emergencyStopCmd = &cobra.Command{
	Use:   "emergency-stop",
	Short: "Stop every configured miner",
	Long: `Disable every hash board on every configured miner, pause hashing and
curtail to zero. Automatic control stays off until each miner is resumed.`,
	Args: cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
		if !assumeYes && !ui.EmergencyStopConfirmation(s.coord.Devices()) {
			return nil
		}
		cycle := s.coord.TriggerEmergencyStop(ctx)
		return s.printCycle(cycle)
	}),
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one control cycle",
	Long: `Run a single control pass over every configured miner: query status,
apply temperature protection and converge each miner to the power the solar
input allows.`,
	Args: cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
		return s.printCycle(s.coord.RunCycle(ctx))
	}),
}

func (s *session) printCycle(cycle control.CycleResult) error {
	if jsonOutput {
		if err := s.printJSON(cycle); err != nil {
			return err
		}
	} else {
		s.printer.PrintCycle(cycle)
	}

	failed := 0
	for _, d := range cycle.Devices {
		if len(d.Errors) > 0 {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d miners reported errors", failed, len(cycle.Devices))
	}
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch <device>",
	Short: "Watch a miner's status live",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		id := args[0]
		if _, err := s.device(id); err != nil {
			return err
		}
		if !ui.IsInteractive() {
			return fmt.Errorf("watch needs a terminal; use 'solminer status %s' instead", id)
		}
		return ui.RunWatch(ctx, "Watching "+id, watchInterval, func(ctx context.Context) (*miner.DeviceStatus, error) {
			return s.coord.GetStatus(ctx, id)
		})
	}),
}

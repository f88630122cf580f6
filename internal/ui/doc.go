// Package ui provides terminal UI components for the solminer CLI.
//
// Most commands follow a "run once and exit" pattern: a Header describing
// the command, then a Result box or a status panel. Only the watch command
// runs an interactive Bubble Tea program.
//
// # Components
//
//   - Header: command banner with ordered parameters
//   - Result: success, warning and failure boxes; failures built from a
//     device error carry its troubleshooting hints
//   - RenderStatus: miner status with one line per hash board
//   - RenderCycle: per-device summary of a control cycle, with a power gauge
//   - WatchModel: live status refreshed on an interval
//
// Example:
//
//	p := ui.NewPrinter(os.Stdout)
//	p.PrintHeader("Power Profile", "solminer profile garage eco",
//	    ui.Param{Key: "Device", Value: "garage"})
//
//	status, err := coordinator.SetPowerProfile(ctx, "garage", miner.UltraEco)
//	if err != nil {
//	    p.PrintError("Power profile not applied", err)
//	    return err
//	}
//	p.PrintStatus(status)
//
// # Logging Integration
//
// Logging is controlled by SOLMINER_LOG_LEVEL. When it is unset the CLI
// keeps zap silent so the styled output is not interleaved with log lines.
//
// # Confirmation
//
// Dangerous operations (emergency stop, reboot) ask the user to type
// ConfirmPhrase. Without a terminal on stdin the prompt refuses, so scripts
// must pass --yes.
package ui

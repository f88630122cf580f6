// Package logging provides structured logging for solminer.
//
// This package wraps a process-wide zap logger with convenience functions for
// the logging patterns used by the miner clients and the control loop.
//
// # Log Levels
//
//   - Debug: wire commands that succeeded, raw socket replies, session renewals
//   - Info: protocol detection, preset changes, coordinator start/stop
//   - Warn: failed commands, fallbacks, skipped cycles
//   - Error: startup failures and errors that stop a component
//
// # Structured Logging
//
// All log functions take zap fields:
//
//	logging.Info("Preset applied",
//	    zap.String("device", "s21-garage"),
//	    zap.String("preset", "eco_mode"),
//	)
//
// Miner traffic has dedicated helpers:
//
//	logging.LogCommand(device, "socket", "summary", elapsed, err)
//	logging.LogProtocolChange(device, "socket", "http", "connection refused")
//	logging.LogRawBytes("socket reply", data)
//
// # Configuration
//
// Command line tools stay silent unless SOLMINER_LOG_LEVEL is set:
//
//	_ = logging.InitializeFromEnv()
//	defer logging.Sync()
//
// The daemon passes its --log-level flag to Initialize.
package logging

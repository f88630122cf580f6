// Solminer-server runs the solar-aware control loop for ASIC miners.
//
// It polls every configured miner on a fixed interval, protects hot boards,
// converges each miner to the power the solar input allows and exposes the
// command surface over an HTTP API, a websocket cycle stream and MQTT.
//
// Usage:
//
//	solminer-server run [flags]
//
// See 'solminer-server run --help' for available options.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/solminer/internal/config"
	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/logging"
	"github.com/muurk/solminer/internal/mqtt"
	"github.com/muurk/solminer/internal/server"
	"github.com/muurk/solminer/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "solminer-server",
	Short: "Solminer control daemon",
	Long: `A daemon that keeps ASIC miners within the available solar power.

Every poll interval it queries each miner and applies temperature protection.
Every curtailment interval it recomputes the power profile and board set from
the solar input. The HTTP API, websocket stream and MQTT bridge expose the same
command surface.

Note: For one-off commands, use the separate 'solminer' utility.`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// Run command and flags
var (
	configPath string
	logLevel   string
	listen     string
	noAPI      bool
	noMQTT     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control loop",
	Long: `Start the control loop with the HTTP API and MQTT bridge as configured.

Configuration comes from --config, CONFIG_FILE or the default config file,
with SOLMINER_* environment overrides. A .env file in the working directory
is loaded first.`,
	Example: `  # Start with the default config file
  solminer-server run

  # Explicit config, debug logging, API on another port
  solminer-server run --config /etc/solminer.yaml --log-level debug --listen :9090

  # Control loop only
  solminer-server run --no-api --no-mqtt`,
	RunE: runServer,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from config, then info")
	runCmd.Flags().StringVar(&listen, "listen", "", "API listen address (overrides api.listen)")
	runCmd.Flags().BoolVar(&noAPI, "no-api", false, "Disable the HTTP API")
	runCmd.Flags().BoolVar(&noMQTT, "no-mqtt", false, "Disable the MQTT bridge")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	if level == "" {
		level = "info"
	}
	if err := logging.Initialize(level); err != nil {
		return err
	}
	defer logging.Sync()

	if len(cfg.Devices) == 0 {
		return errors.New("no devices configured")
	}

	coord, err := newCoordinator(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Starting solminer-server",
		zap.String("version", version.Short()),
		zap.String("config", cfg.Path),
		zap.Strings("devices", coord.Devices()),
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Enabled && !noMQTT {
		bridge := mqtt.NewBridge(cfg.MQTT, coord)
		if err := bridge.Start(ctx); err != nil {
			// The client keeps retrying in the background
			logging.Warn("MQTT bridge not connected yet", zap.Error(err))
		}
		coord.OnCycle(bridge.PublishCycle)
		defer bridge.Stop()
	}

	if cfg.API.Enabled && !noAPI {
		addr := cfg.API.Listen
		if listen != "" {
			addr = listen
		}
		srv := server.New(server.Config{
			Listen:          addr,
			HTTPLog:         cfg.API.HTTPLog,
			ShutdownTimeout: coord.Settings().ShutdownTimeout,
		}, coord)
		coord.OnCycle(srv.PublishCycle)
		g.Go(func() error { return srv.Start(ctx) })
	}

	g.Go(func() error { return coord.Run(ctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("Shutdown with error", zap.Error(err))
		return err
	}
	logging.Info("solminer-server stopped")
	return nil
}

// newCoordinator registers one client per configured device.
func newCoordinator(cfg *config.Config) (*control.Coordinator, error) {
	coord := control.New(cfg.Settings())
	for _, d := range cfg.Devices {
		if err := coord.Register(cfg.NewClient(d), d.DeviceSettings()); err != nil {
			return nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
	}
	return coord, nil
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "solminer-server %s\n", version.Full())
	},
}

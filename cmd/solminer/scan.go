package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/solminer/internal/config"
	"github.com/muurk/solminer/internal/discovery"
	"github.com/muurk/solminer/internal/ui"
)

// Scan command flags
var (
	scanTimeout int
	scanAll     bool
)

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 0, "Scan timeout in seconds (default from discovery.timeout_seconds)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every HTTP service, not just known miner hostnames")
	rootCmd.AddCommand(scanCmd)
}

// scanCmd discovers miners on the network
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for miners on the local network",
	Long: `Scan for miners using mDNS/DNS-SD discovery.

Miner firmwares advertise an HTTP service under hostnames such as
antminer-*.local or luxos-*.local. Each miner found is printed with a
config snippet that can be pasted under 'devices:'.`,
	Example: `  # Scan for 10 seconds (default)
  solminer scan

  # Longer scan, listing every HTTP service
  solminer scan --timeout 30 --all`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	// A missing or invalid config still allows scanning with defaults
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}

	scanner := discovery.NewScanner()
	scanner.ServiceType = cfg.Discovery.ServiceType
	scanner.Timeout = time.Duration(cfg.Discovery.TimeoutSeconds) * time.Second
	if scanTimeout > 0 {
		scanner.Timeout = time.Duration(scanTimeout) * time.Second
	}
	scanner.IncludeAll = scanAll

	printer := ui.NewPrinter(cmd.OutOrStdout())
	if !jsonOutput {
		printer.PrintHeader("Miner Discovery", "solminer scan",
			ui.Param{Key: "Service", Value: scanner.ServiceType},
			ui.Param{Key: "Timeout", Value: scanner.Timeout.String()},
		)
	}

	devices, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if jsonOutput {
		s := &session{printer: printer}
		return s.printJSON(devices)
	}

	if len(devices) == 0 {
		printer.Println(ui.NewFailureResult("No miners found", nil, []string{
			"Ensure the miners are powered on and on this network segment",
			"mDNS does not cross routers or VLANs",
			"Try increasing --timeout for slower networks",
			"Use --all to list every HTTP service that answered",
		}).SetWidth(printer.Width()).Render())
		return nil
	}

	result := ui.NewSuccessResult(fmt.Sprintf("Found %d miner(s)", len(devices)))
	for _, d := range devices {
		result.AddDetail(d.SuggestedID(), fmt.Sprintf("%s  %s:%d", d.Family, d.IP, d.Port))
	}
	printer.Println(result.SetWidth(printer.Width()).Render())

	snippet, err := configSnippet(devices)
	if err != nil {
		return err
	}
	printer.Println(ui.MutedStyle.Render("# Add to your config file:"))
	printer.Print(snippet)
	return nil
}

// configSnippet renders discovered miners as a devices: block.
func configSnippet(devices []*discovery.Device) (string, error) {
	block := struct {
		Devices []config.DeviceConfig `yaml:"devices"`
	}{}
	for _, d := range devices {
		dc := config.DeviceConfig{ID: d.SuggestedID(), Host: d.IP}
		if d.Port != discovery.DefaultPort {
			dc.HTTPBaseURLs = []string{d.BaseURL()}
		}
		block.Devices = append(block.Devices, dc)
	}
	data, err := yaml.Marshal(block)
	if err != nil {
		return "", fmt.Errorf("failed to render config snippet: %w", err)
	}
	return string(data), nil
}

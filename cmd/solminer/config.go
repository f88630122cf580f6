package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/solminer/internal/config"
	"github.com/muurk/solminer/internal/ui"
)

var forceInit bool

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration with one example miner. The
file goes to --config when given, otherwise to the OS config directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.WriteDefault(configPath, forceInit)
		if err != nil {
			return err
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Configuration written",
			ui.Param{Key: "Path", Value: cfg.Path},
			ui.Param{Key: "Next", Value: "edit the devices section, or run 'solminer scan'"},
		)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and SOLMINER_* environment
overrides are applied. Passwords are redacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		redacted := cfg.Redacted()
		printer := ui.NewPrinter(cmd.OutOrStdout())
		if jsonOutput {
			s := &session{printer: printer}
			return s.printJSON(redacted)
		}

		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		if cfg.Path != "" {
			printer.Println(ui.MutedStyle.Render("# " + cfg.Path))
		}
		printer.Print(string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the default configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

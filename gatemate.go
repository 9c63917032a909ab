package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var myBuild string

var (
	cfgFile    string
	jsonOutput bool

	cfg    *Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           "gatemate <command>",
	Short:         "Safety-supervised gate controller",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		c, err := LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logger = newLogger(cfg.LogLevel)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gate controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.WithField("build", myBuild).Info("gatemate starting")
		return runDaemon(cfg, logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "gatemate build %s\n", myBuild)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $GATEMATE_CONFIG or gatemate.yml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "daemon", Title: "Controller:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance (controller stopped):"},
	)
	runCmd.GroupID = "daemon"
	versionCmd.GroupID = "daemon"

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	addMaintenanceCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/conduit-ai/conduit/internal/config"
	"github.com/conduit-ai/conduit/internal/coordinator"
	"github.com/conduit-ai/conduit/internal/eventlog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgFile      string
	modelFlag    string
	providerFlag string
	interactive  bool

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "Multi-provider AI completion orchestrator",
		Long:  "conduit dispatches chat completions across OpenAI, Anthropic, gateway and local backends\nwith response caching, priority scheduling and resource monitoring.",
		// Running conduit with no subcommand starts chat mode.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Default interactive on when stdin is a terminal and --interactive was not explicitly set.
			if !cmd.Root().PersistentFlags().Changed("interactive") && term.IsTerminal(int(os.Stdin.Fd())) {
				interactive = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/conduit/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider")
	rootCmd.PersistentFlags().BoolVar(&interactive, "interactive", false, "interactive chat mode (default: auto-detect terminal)")

	// Subcommands
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))
	rootCmd.AddCommand(newInitCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// displayVersion returns a formatted version string for the chat banner,
// e.g. "v0.3.1 (abc1234)".
func displayVersion() string {
	v := "v" + appVersion
	if appCommit != "" && appCommit != "none" {
		v += " (" + appCommit + ")"
	}
	return v
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}

	return cfg
}

// buildCoordinator wires config, secrets and a fresh event log session into a
// coordinator. The returned logger may be nil; both the coordinator and the
// logger methods tolerate that.
func buildCoordinator(cfg *config.Config) (*coordinator.Coordinator, *eventlog.Logger) {
	events, err := eventlog.New(uuid.NewString())
	if err != nil {
		fmt.Fprintf(os.Stderr, "event log disabled: %v\n", err)
		events = nil
	}

	coord, err := coordinator.New(coordinator.Options{
		Config:  cfg,
		Secrets: config.LoadSecrets(),
		Events:  events,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return coord, events
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/config"
)

// cli carries state shared by every subcommand once the root has run.
type cli struct {
	configFile   string
	providerName string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "danzar",
		Short: "Danzar: a retrieval-augmented assistant with memory, vision and research sessions",
		Long: "danzar answers questions with context recalled from its vector memory, " +
			"describes images, and runs timed teach and research sessions that index what they learn.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.load(cmd.Name() == "chat" || cmd == cmd.Root())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logCloser != nil {
				c.logCloser.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), c)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "config file (default ./config.yaml or ~/.config/danzar/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&c.providerName, "provider", "p", "", "provider name from the config (overrides default_provider)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newChatCmd(c),
		newAskCmd(c),
		newServeCmd(c),
		newTeachCmd(c),
		newResearchCmd(c),
		newIngestCmd(c),
		newSettingsCmd(c),
		newDoctorCmd(c),
		newModelsCmd(c),
	)
	return rootCmd
}

// load reads the configuration and sets up logging. Interactive sessions
// always log to a file so the terminal UI is not overwritten.
func (c *cli) load(interactive bool) error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return err
	}
	if c.providerName != "" {
		if _, ok := cfg.Providers[c.providerName]; !ok {
			return fmt.Errorf("provider %q not found in config (have: %s)", c.providerName, strings.Join(providerNames(cfg), ", "))
		}
		cfg.DefaultProvider = c.providerName
	}
	logCfg := cfg.Log
	if interactive && logCfg.File == "" {
		logCfg.File = "danzar.log"
	}
	logger, closer, err := newLogger(logCfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	c.cfg, c.logger, c.logCloser = cfg, logger, closer
	return nil
}

func providerNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	return names
}

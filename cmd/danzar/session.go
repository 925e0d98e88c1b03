package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/session"
)

func newTeachCmd(c *cli) *cobra.Command {
	var turns int
	cmd := &cobra.Command{
		Use:   "teach <topic>",
		Short: "Run a guided lesson of search, summary and follow-up rounds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if turns < 0 {
				return fmt.Errorf("--turns must be >= 0")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := wireApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.sessions.Teach(ctx, session.TeachRequest{
				Topic:   strings.Join(args, " "),
				Turns:   turns,
				Channel: connector.NewWriter(cmd.OutOrStdout()),
			})
			if err != nil {
				return err
			}
			c.logger.Info("teach finished", "session", rep.ID, "rounds", rep.Rounds)
			return nil
		},
	}
	cmd.Flags().IntVarP(&turns, "turns", "n", 3, "number of rounds")
	return cmd
}

func newResearchCmd(c *cli) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "research <topic>",
		Short: "Research a topic for a fixed time, indexing every round",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes < 0 {
				return fmt.Errorf("--minutes must be >= 0")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := wireApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.sessions.Research(ctx, session.ResearchRequest{
				Topic:   strings.Join(args, " "),
				Minutes: minutes,
				Channel: connector.NewWriter(cmd.OutOrStdout()),
			})
			if err != nil {
				return err
			}
			c.logger.Info("research finished", "session", rep.ID, "rounds", rep.Rounds, "minutes", rep.Minutes)
			return nil
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 5, "how long to research")
	return cmd
}

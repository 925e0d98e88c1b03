package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/headless"
	"github.com/jeanpaul/danzar/internal/tui"
)

func newChatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive terminal UI (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), c)
		},
	}
}

func runChat(parent context.Context, c *cli) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	a, err := wireApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	a.start(ctx)
	defer a.Close()
	defer cancel()

	return tui.Run(tui.Options{
		Dispatcher:   a.dispatcher,
		Sessions:     a.sessions,
		Commentator:  a.commentator,
		History:      a.history,
		Settings:     a.settings,
		ProviderName: a.llm.Name(),
		ModelName:    a.llm.ModelName(),
	})
}

func newAskCmd(c *cli) *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "ask <message or image path>",
		Short: "Answer one message and exit; the answer goes to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := wireApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			a.start(ctx)
			defer a.Close()
			defer cancel()

			return headless.Run(ctx, a.dispatcher, dispatcher.Classify(strings.Join(args, " ")), headless.Options{
				Author: author,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			})
		},
	}
	cmd.Flags().StringVar(&author, "author", "user", "name shown on the placeholder reply")
	return cmd
}

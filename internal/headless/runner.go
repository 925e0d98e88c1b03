// Package headless answers a single message without the TUI.
package headless

import (
	"context"
	"fmt"
	"io"

	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/prompt"
)

type Submitter interface {
	Submit(ctx context.Context, it dispatcher.Item) error
}

type Options struct {
	Author  string
	Channel string
	// Stdout receives the answer, Stderr the placeholder and any reasoning.
	Stdout io.Writer
	Stderr io.Writer
}

// Run submits one payload and blocks until its reply is final. The answer
// goes to stdout so it can be piped; everything else goes to stderr.
func Run(ctx context.Context, d Submitter, p dispatcher.Payload, opts Options) error {
	if opts.Author == "" {
		opts.Author = "user"
	}
	if opts.Channel == "" {
		opts.Channel = "cli"
	}

	rec := connector.NewRecorder()
	if err := d.Submit(ctx, dispatcher.Item{
		Author:  opts.Author,
		Channel: opts.Channel,
		Payload: p,
		Reply:   connector.Tee(rec, connector.NewWriter(opts.Stderr)),
	}); err != nil {
		return fmt.Errorf("headless: submit: %w", err)
	}

	reply, err := rec.WaitEdit(ctx)
	if err != nil {
		return err
	}

	reasoning, answer := prompt.SplitReasoning(reply)
	if reasoning != "" {
		fmt.Fprintf(opts.Stderr, "\n[Reasoning]\n%s\n", reasoning)
	}
	_, err = fmt.Fprintln(opts.Stdout, answer)
	return err
}

package provider

import (
	"context"
	"fmt"
	"strings"
)

// Complete sends msgs and drains the stream into a single reply. Reasoning
// streamed separately is folded back in as a leading <think> block so that
// display surfaces can split it out and speech can strip it.
func Complete(ctx context.Context, p Provider, msgs []Message) (string, error) {
	ch, err := p.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}
	var thinking, answer strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			// Drain so the producer goroutine can exit.
			for range ch {
			}
			return "", chunk.Error
		}
		thinking.WriteString(chunk.Thinking)
		answer.WriteString(chunk.Delta)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := strings.TrimSpace(answer.String())
	if t := strings.TrimSpace(thinking.String()); t != "" {
		out = thinkOpen + t + thinkClose + "\n" + out
	}
	return out, nil
}

// Exclusive serialises access to a Provider. A call holds the provider from
// the request until its stream is fully drained, so a single local model
// never sees two generations from this process at once.
type Exclusive struct {
	inner Provider
	sem   chan struct{}
}

var _ Provider = (*Exclusive)(nil)

func Serialize(p Provider) *Exclusive {
	if e, ok := p.(*Exclusive); ok {
		return e
	}
	return &Exclusive{inner: p, sem: make(chan struct{}, 1)}
}

func (e *Exclusive) Name() string { return e.inner.Name() }

func (e *Exclusive) ModelName() string { return e.inner.ModelName() }

func (e *Exclusive) Models(ctx context.Context) ([]string, error) { return e.inner.Models(ctx) }

func (e *Exclusive) Chat(ctx context.Context, msgs []Message) (<-chan StreamChunk, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", e.inner.Name(), ctx.Err())
	}
	release := func() { <-e.sem }

	in, err := e.inner.Chat(ctx, msgs)
	if err != nil {
		release()
		return nil, err
	}
	out := make(chan StreamChunk, cap(in))
	go func() {
		defer release()
		defer close(out)
		for chunk := range in {
			out <- chunk
		}
	}()
	return out, nil
}

// Package commentator periodically captures the screen and queues the
// screenshot for the dispatcher to describe.
package commentator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeanpaul/danzar/internal/config"
	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/dispatcher"
)

type Submitter interface {
	Submit(ctx context.Context, it dispatcher.Item) error
}

// Target says where commentary is posted.
type Target struct {
	Author  string
	Channel string
	Reply   connector.Channel
}

type Commentator struct {
	capture  []string
	path     string
	interval time.Duration
	submit   Submitter
	logger   *slog.Logger

	// busy is set from capture until the dispatcher edits the reply, so at
	// most one screenshot is queued or being answered.
	busy atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a commentator. The capture command may use {path} for the
// screenshot file.
func New(cfg config.CommentatorConfig, screenshotPath string, submit Submitter, logger *slog.Logger) *Commentator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Commentator{
		capture:  strings.Fields(cfg.CaptureCommand),
		path:     screenshotPath,
		interval: cfg.Interval,
		submit:   submit,
		logger:   logger.With("component", "commentator"),
	}
}

func (c *Commentator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Start begins capturing every interval until Stop or ctx ends. It reports
// false if already running.
func (c *Commentator) Start(ctx context.Context, t Target) (bool, error) {
	if len(c.capture) == 0 {
		return false, errors.New("commentator: commentator.capture_command is not set")
	}
	if t.Reply == nil {
		return false, errors.New("commentator: no reply channel")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return false, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.busy.Store(false)
	c.done = make(chan struct{})
	go c.loop(ctx, t, c.done)
	c.logger.Info("commentator started", "interval", c.interval, "channel", t.Channel)
	return true, nil
}

// Stop ends the loop and waits for it. It reports false if it was not running.
func (c *Commentator) Stop() bool {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	c.logger.Info("commentator stopped")
	return true
}

func (c *Commentator) loop(ctx context.Context, t Target, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.tick(ctx, t); err != nil {
				c.logger.Warn("commentary skipped", "error", err)
			}
		}
	}
}

func (c *Commentator) tick(ctx context.Context, t Target) error {
	if !c.busy.CompareAndSwap(false, true) {
		c.logger.Debug("previous screenshot still pending, skipping tick")
		return nil
	}
	if err := c.captureScreen(ctx); err != nil {
		c.busy.Store(false)
		return err
	}
	err := c.submit.Submit(ctx, dispatcher.Item{
		Author:  t.Author,
		Channel: t.Channel,
		Payload: dispatcher.ImagePath(c.path),
		Reply:   releasing{ch: t.Reply, busy: &c.busy},
	})
	if err != nil {
		c.busy.Store(false)
	}
	if errors.Is(err, dispatcher.ErrQueueFull) {
		c.logger.Debug("dispatcher busy, dropping screenshot")
		return nil
	}
	return err
}

// releasing clears busy once the commentary reply is final, or when the
// placeholder cannot be posted.
type releasing struct {
	ch   connector.Channel
	busy *atomic.Bool
}

func (r releasing) Send(ctx context.Context, text string) (connector.Handle, error) {
	h, err := r.ch.Send(ctx, text)
	if err != nil {
		r.busy.Store(false)
		return nil, err
	}
	return releasingHandle{h: h, busy: r.busy}, nil
}

type releasingHandle struct {
	h    connector.Handle
	busy *atomic.Bool
}

func (r releasingHandle) Edit(ctx context.Context, text string) error {
	defer r.busy.Store(false)
	return r.h.Edit(ctx, text)
}

func (c *Commentator) captureScreen(ctx context.Context) error {
	argv := make([]string, len(c.capture))
	for i, arg := range c.capture {
		argv[i] = strings.ReplaceAll(arg, "{path}", c.path)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("capture: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Package audio speaks replies through external synthesis and playback
// commands on a background worker.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jeanpaul/danzar/internal/config"
)

const queueSize = 8

// Voice supplies the current voice and volume, read per job so settings
// changes apply to the next reply.
type Voice func() (voice string, volume float64)

// Worker runs synthesis then playback for one text at a time. Speak never
// blocks; jobs beyond the queue are dropped.
type Worker struct {
	enabled bool
	synth   []string
	play    []string
	voice   Voice
	jobs    chan string
	logger  *slog.Logger
}

// NewWorker builds a worker from the audio config. Command templates may use
// {out} (synth output file), {path} (file to play), {voice} and {volume}.
// Synthesis reads the text on stdin.
func NewWorker(cfg config.AudioConfig, voice Voice, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if voice == nil {
		voice = func() (string, float64) { return "", 1 }
	}
	w := &Worker{
		enabled: cfg.Enabled && cfg.SynthCommand != "",
		synth:   strings.Fields(cfg.SynthCommand),
		play:    strings.Fields(cfg.PlayCommand),
		voice:   voice,
		jobs:    make(chan string, queueSize),
		logger:  logger.With("component", "audio"),
	}
	return w
}

func (w *Worker) Enabled() bool { return w.enabled }

// Speak queues text for synthesis. Blank text and a disabled worker are no-ops.
func (w *Worker) Speak(text string) {
	if !w.enabled || strings.TrimSpace(text) == "" {
		return
	}
	select {
	case w.jobs <- text:
	default:
		w.logger.Warn("audio queue full, dropping reply", "chars", len(text))
	}
}

// Run consumes jobs until ctx is cancelled. Failures are logged only.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-w.jobs:
			if err := w.speak(ctx, text); err != nil {
				w.logger.Warn("speech failed", "error", err)
			}
		}
	}
}

func (w *Worker) speak(ctx context.Context, text string) error {
	f, err := os.CreateTemp("", "danzar-*.wav")
	if err != nil {
		return err
	}
	out := f.Name()
	f.Close()
	defer os.Remove(out)

	voice, volume := w.voice()
	vars := map[string]string{
		"{out}":    out,
		"{path}":   out,
		"{voice}":  voice,
		"{volume}": strconv.FormatFloat(volume, 'f', -1, 64),
	}

	if err := w.run(ctx, expand(w.synth, vars), text); err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if len(w.play) == 0 {
		return nil
	}
	if err := w.run(ctx, expand(w.play, vars), ""); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

func (w *Worker) run(ctx context.Context, argv []string, stdin string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

func expand(tmpl []string, vars map[string]string) []string {
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		out[i] = arg
	}
	return out
}

// Package dispatcher turns queued text and image messages into model replies,
// one at a time.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/jeanpaul/danzar/internal/history"
	"github.com/jeanpaul/danzar/internal/memory"
	"github.com/jeanpaul/danzar/internal/prompt"
	"github.com/jeanpaul/danzar/internal/provider"
	"github.com/jeanpaul/danzar/internal/settings"
	"github.com/jeanpaul/danzar/internal/web"
)

var (
	ErrQueueFull = errors.New("dispatcher queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
)

const (
	defaultQueueSize = 64
	defaultTopK      = 3
)

// Memory is the part of the vector store the dispatcher uses.
type Memory interface {
	Len() int
	SearchText(ctx context.Context, text string, k int) ([]memory.Result, error)
	Append(ctx context.Context, text string) error
}

type Captioner interface {
	Caption(ctx context.Context, path string) (string, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]web.Result, error)
}

// Speaker receives reply text for speech. Speak must not block.
type Speaker interface {
	Speak(text string)
}

type Options struct {
	LLM     provider.Provider
	Memory  Memory
	History *history.ChannelHistory
	// Personality is read for every item so settings edits apply immediately.
	Personality func() string

	Captioner Captioner
	OCR       TextExtractor
	Web       Searcher
	Speaker   Speaker

	TopK      int
	MaxTokens int
	// ScreenshotPath is never deleted, even when submitted as a TempImage.
	ScreenshotPath string
	QueueSize      int
	Logger         *slog.Logger
}

// Dispatcher owns the inbound queue. Exactly one goroutine, Run, consumes it.
type Dispatcher struct {
	llm         provider.Provider
	mem         Memory
	hist        *history.ChannelHistory
	personality func() string
	captioner   Captioner
	ocr         TextExtractor
	web         Searcher
	speaker     Speaker
	topK        int
	maxTokens   int
	screenshot  string
	logger      *slog.Logger

	queue     chan Item
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = history.New(history.DefaultMaxTurns)
	}
	if opts.Personality == nil {
		opts.Personality = func() string { return settings.DefaultPersonality }
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Dispatcher{
		llm:         provider.Serialize(opts.LLM),
		mem:         opts.Memory,
		hist:        opts.History,
		personality: opts.Personality,
		captioner:   opts.Captioner,
		ocr:         opts.OCR,
		web:         opts.Web,
		speaker:     opts.Speaker,
		topK:        opts.TopK,
		maxTokens:   opts.MaxTokens,
		screenshot:  opts.ScreenshotPath,
		logger:      opts.Logger.With("component", "dispatcher"),
		queue:       make(chan Item, opts.QueueSize),
		done:        make(chan struct{}),
	}
}

// Submit enqueues an item without blocking. Items without an ID get one.
func (d *Dispatcher) Submit(ctx context.Context, it Item) error {
	if it.Reply == nil {
		return errors.New("dispatcher: item has no reply channel")
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	select {
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case d.queue <- it:
		d.logger.Debug("item queued", "item", it.ID, "kind", it.Payload.Kind, "channel", it.Channel)
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending is the number of queued items not yet picked up.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run processes items in arrival order until ctx is cancelled. A failed item
// is reported on its own channel and never stops the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeOnce.Do(func() { close(d.done) })
	d.logger.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped", "pending", len(d.queue))
			return ctx.Err()
		case it := <-d.queue:
			d.process(ctx, it)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, it Item) {
	log := d.logger.With("item", it.ID, "channel", it.Channel, "kind", it.Payload.Kind)
	defer func() {
		if r := recover(); r != nil {
			log.Error("item panicked", "panic", r)
		}
	}()

	placeholder, err := it.Reply.Send(ctx, it.Author+" Thinking…")
	if err != nil {
		log.Warn("could not post placeholder", "error", err)
		return
	}

	var (
		reply string
		speak bool
	)
	switch it.Payload.Kind {
	case KindImage:
		reply, err = d.answerImage(ctx, it.Payload)
		speak = true
	default:
		reply, speak, err = d.answerText(ctx, it)
	}
	if err != nil {
		log.Warn("item failed", "error", err)
		reply, speak = "⚠️ "+provider.FriendlyError(err), false
	}

	if err := placeholder.Edit(ctx, reply); err != nil {
		log.Warn("could not edit reply", "error", err)
	}
	if speak && d.speaker != nil {
		d.speaker.Speak(prompt.StripForSpeech(reply))
	}
	log.Debug("item done", "chars", len(reply))
}

// answerText reports whether the reply should be spoken.
func (d *Dispatcher) answerText(ctx context.Context, it Item) (string, bool, error) {
	if canned, ok := smallTalk(it.Payload.Text); ok {
		return canned, false, nil
	}

	text, wantsWeb := webQuery(it.Payload.Text)
	topic := d.hist.SetTopicIfEmpty(it.Channel, text)

	var retrieved []string
	if d.mem != nil {
		k := min(d.topK, d.mem.Len())
		if k > 0 {
			hits, err := d.mem.SearchText(ctx, text, k)
			if err != nil {
				return "", false, fmt.Errorf("retrieve: %w", err)
			}
			for _, h := range hits {
				retrieved = append(retrieved, h.Entry.Text)
			}
		}
	}

	msgs := prompt.BuildRAGPrompt(d.personality(), topic, retrieved, d.hist.Recent(it.Channel), text)
	if wantsWeb && d.web != nil {
		msgs = prompt.WithWebContext(msgs, d.searchSnippets(ctx, text))
	}
	if d.maxTokens > 0 {
		msgs = prompt.Fit(msgs, d.maxTokens)
	}

	reply, err := provider.Complete(ctx, d.llm, msgs)
	if err != nil {
		return "", false, err
	}

	if d.mem != nil {
		for _, entry := range []string{"user: " + text, "assistant: " + reply} {
			if err := d.mem.Append(ctx, entry); err != nil {
				d.logger.Warn("could not remember turn", "channel", it.Channel, "error", err)
			}
		}
	}
	d.hist.Push(it.Channel, provider.RoleUser, text)
	d.hist.Push(it.Channel, provider.RoleAssistant, reply)
	return reply, true, nil
}

func (d *Dispatcher) searchSnippets(ctx context.Context, query string) []string {
	results, err := d.web.Search(ctx, query)
	if err != nil {
		d.logger.Warn("web search failed", "query", query, "error", err)
		return []string{fmt.Sprintf("[search failed: %v]", err)}
	}
	return web.Snippets(results)
}

func (d *Dispatcher) answerImage(ctx context.Context, p Payload) (string, error) {
	path := p.Path
	if p.Owned {
		defer d.discard(path)
	}

	extracted := ""
	if d.ocr != nil {
		text, err := d.ocr.ExtractText(ctx, path)
		if err != nil {
			d.logger.Warn("ocr failed", "path", path, "error", err)
		} else {
			extracted = text
		}
	}

	caption := "[Caption error: no captioner configured]"
	if d.captioner != nil {
		c, err := d.captioner.Caption(ctx, path)
		if err != nil {
			caption = fmt.Sprintf("[Caption error: %v]", err)
		} else {
			caption = c
		}
	}

	return provider.Complete(ctx, d.llm, prompt.ImagePrompt(d.personality(), caption, extracted))
}

// discard removes a temporary image unless it is the screenshot file.
func (d *Dispatcher) discard(path string) {
	if d.screenshot != "" && samePath(path, d.screenshot) {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("could not remove image", "path", path, "error", err)
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

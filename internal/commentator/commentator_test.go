package commentator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jeanpaul/danzar/internal/config"
	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	items []dispatcher.Item
	err   error
}

// Submit records the item and, unless it fails, answers it at once.
func (r *recordingSubmitter) Submit(ctx context.Context, it dispatcher.Item) error {
	r.mu.Lock()
	r.items = append(r.items, it)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	h, err := it.Reply.Send(ctx, it.Author+" Thinking…")
	if err != nil {
		return err
	}
	return h.Edit(ctx, "a quiet desktop")
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func TestCommentatorCapturesAndSubmits(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "frame.png")
	shot := filepath.Join(dir, "gui_screenshot.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	sub := &recordingSubmitter{}
	c := New(config.CommentatorConfig{Interval: 10 * time.Millisecond, CaptureCommand: "cp " + src + " {path}"}, shot, sub, nil)

	started, err := c.Start(context.Background(), Target{Author: "Danzar", Channel: "gui", Reply: connector.NewRecorder()})
	require.NoError(t, err)
	require.True(t, started)
	assert.True(t, c.Running())

	again, err := c.Start(context.Background(), Target{Reply: connector.NewRecorder()})
	require.NoError(t, err)
	assert.False(t, again)

	require.Eventually(t, func() bool { return sub.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, c.Stop())
	assert.False(t, c.Running())
	assert.False(t, c.Stop())

	assert.FileExists(t, shot)
	sub.mu.Lock()
	it := sub.items[0]
	sub.mu.Unlock()
	assert.Equal(t, dispatcher.ImagePath(shot), it.Payload)
	assert.Equal(t, "gui", it.Channel)
}

func TestCommentatorNeedsCaptureCommand(t *testing.T) {
	c := New(config.CommentatorConfig{}, "shot.png", &recordingSubmitter{}, nil)
	_, err := c.Start(context.Background(), Target{Reply: connector.NewRecorder()})
	assert.Error(t, err)
}

func TestTickToleratesBusyDispatcher(t *testing.T) {
	sub := &recordingSubmitter{err: dispatcher.ErrQueueFull}
	c := New(config.CommentatorConfig{CaptureCommand: "true"}, "shot.png", sub, nil)
	assert.NoError(t, c.tick(context.Background(), Target{Reply: connector.NewRecorder()}))
	assert.NoError(t, c.tick(context.Background(), Target{Reply: connector.NewRecorder()}))
	assert.Equal(t, 2, sub.count())
}

func TestTickReportsCaptureFailure(t *testing.T) {
	c := New(config.CommentatorConfig{CaptureCommand: "false"}, "shot.png", &recordingSubmitter{}, nil)
	assert.Error(t, c.tick(context.Background(), Target{Reply: connector.NewRecorder()}))
}

// heldLLM blocks every reply until release is closed.
type heldLLM struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (l *heldLLM) Name() string                             { return "held" }
func (l *heldLLM) ModelName() string                        { return "held-1" }
func (l *heldLLM) Models(context.Context) ([]string, error) { return nil, nil }
func (l *heldLLM) Chat(ctx context.Context, _ []provider.Message) (<-chan provider.StreamChunk, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	ch := make(chan provider.StreamChunk, 2)
	go func() {
		defer close(ch)
		select {
		case <-l.release:
			ch <- provider.StreamChunk{Delta: "a quiet desktop"}
			ch <- provider.StreamChunk{Done: true}
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (l *heldLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestCommentatorWaitsForPreviousScreenshot(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "frame.png")
	shot := filepath.Join(dir, "gui_screenshot.png")
	require.NoError(t, os.WriteFile(src, []byte("png"), 0o644))

	llm := &heldLLM{release: make(chan struct{})}
	d := dispatcher.New(dispatcher.Options{LLM: llm, ScreenshotPath: shot})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	rec := connector.NewRecorder()
	c := New(config.CommentatorConfig{Interval: 10 * time.Millisecond, CaptureCommand: "cp " + src + " {path}"}, shot, d, nil)
	_, err := c.Start(ctx, Target{Author: "Danzar", Channel: "gui", Reply: rec})
	require.NoError(t, err)
	defer c.Stop()

	require.Eventually(t, func() bool { return llm.callCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, d.Pending())
	assert.Equal(t, 1, llm.callCount())

	close(llm.release)
	require.Eventually(t, func() bool { return llm.callCount() >= 3 }, 5*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, d.Pending(), 1)
	assert.FileExists(t, shot)
}

// Package connector is the outbound messaging contract: post a message,
// then edit it in place.
package connector

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Channel posts messages to one conversation.
type Channel interface {
	Send(ctx context.Context, text string) (Handle, error)
}

// Handle refers to a posted message.
type Handle interface {
	Edit(ctx context.Context, text string) error
}

// Func adapts a plain send function that has no edit support. Edits are
// delivered as new messages.
type Func func(ctx context.Context, text string) error

func (f Func) Send(ctx context.Context, text string) (Handle, error) {
	if err := f(ctx, text); err != nil {
		return nil, err
	}
	return funcHandle(f), nil
}

type funcHandle Func

func (h funcHandle) Edit(ctx context.Context, text string) error { return h(ctx, text) }

// Writer prints each message and edit as a line. Edits are prefixed so a
// terminal reader can tell them apart.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (c *Writer) Send(_ context.Context, text string) (Handle, error) {
	if err := c.println(text); err != nil {
		return nil, err
	}
	return writerHandle{c}, nil
}

func (c *Writer) println(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, text)
	return err
}

type writerHandle struct{ c *Writer }

func (h writerHandle) Edit(_ context.Context, text string) error {
	return h.c.println("↳ " + text)
}

// Event is one outbound action seen by a Recorder.
type Event struct {
	Kind string // "send" or "edit"
	ID   int
	Text string
}

// Recorder keeps every message in memory. It backs the synchronous HTTP
// endpoint and tests.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	current map[int]string
	nextID  int
	// edited receives the id of every edited message.
	edited chan int
}

func NewRecorder() *Recorder {
	return &Recorder{current: map[int]string{}, edited: make(chan int, 64)}
}

func (r *Recorder) Send(_ context.Context, text string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.current[id] = text
	r.events = append(r.events, Event{Kind: "send", ID: id, Text: text})
	return recorderHandle{r: r, id: id}, nil
}

type recorderHandle struct {
	r  *Recorder
	id int
}

func (h recorderHandle) Edit(_ context.Context, text string) error {
	h.r.mu.Lock()
	h.r.current[h.id] = text
	h.r.events = append(h.r.events, Event{Kind: "edit", ID: h.id, Text: text})
	h.r.mu.Unlock()
	select {
	case h.r.edited <- h.id:
	default:
	}
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Messages returns the current text of every message in send order.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, r.nextID)
	for id := 1; id <= r.nextID; id++ {
		out = append(out, r.current[id])
	}
	return out
}

// WaitEdit blocks until some message is edited and returns its new text.
func (r *Recorder) WaitEdit(ctx context.Context) (string, error) {
	select {
	case id := <-r.edited:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.current[id], nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Tee posts every message to all channels. A failing channel is skipped;
// Send fails only when every channel fails.
func Tee(channels ...Channel) Channel { return tee(channels) }

type tee []Channel

func (t tee) Send(ctx context.Context, text string) (Handle, error) {
	var (
		handles teeHandle
		lastErr error
	)
	for _, c := range t {
		h, err := c.Send(ctx, text)
		if err != nil {
			lastErr = err
			continue
		}
		handles = append(handles, h)
	}
	if len(handles) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return handles, nil
}

type teeHandle []Handle

func (t teeHandle) Edit(ctx context.Context, text string) error {
	var firstErr error
	for _, h := range t {
		if err := h.Edit(ctx, text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

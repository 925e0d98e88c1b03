package tui

import (
	"context"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeanpaul/danzar/internal/connector"
)

// postMsg and editMsg carry connector traffic into the bubbletea loop.
type postMsg struct {
	role string
	id   int64
	text string
}

type editMsg struct {
	role string
	id   int64
	text string
}

type idSource struct{ n atomic.Int64 }

func (s *idSource) next() int64 { return s.n.Add(1) }

// channel is a connector that queues events for waitForEvent instead of
// touching the model directly. Channels built over the same events queue
// share one reader; role tags which view block a message renders as.
type channel struct {
	events chan tea.Msg
	ids    *idSource
	role   string
}

func newChannel(events chan tea.Msg, ids *idSource, role string) *channel {
	return &channel{events: events, ids: ids, role: role}
}

func (c *channel) push(ctx context.Context, msg tea.Msg) error {
	select {
	case c.events <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channel) Send(ctx context.Context, text string) (connector.Handle, error) {
	id := c.ids.next()
	if err := c.push(ctx, postMsg{role: c.role, id: id, text: text}); err != nil {
		return nil, err
	}
	return channelHandle{c: c, id: id}, nil
}

type channelHandle struct {
	c  *channel
	id int64
}

func (h channelHandle) Edit(ctx context.Context, text string) error {
	return h.c.push(ctx, editMsg{role: h.c.role, id: h.id, text: text})
}

// waitForEvent blocks for the next connector event.
func (c *channel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-c.events
	}
}

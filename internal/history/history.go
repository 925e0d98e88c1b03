// Package history keeps the short-term, per-channel conversation window.
package history

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jeanpaul/danzar/internal/provider"
)

const DefaultMaxTurns = 6

type Turn struct {
	Role provider.Role `json:"role"`
	Text string        `json:"text"`
}

// ChannelHistory holds up to 2*maxTurns turns per channel and the channel's
// root topic. Channels are created on first use and never removed.
type ChannelHistory struct {
	mu       sync.Mutex
	maxTurns int
	turns    map[string][]Turn
	topics   map[string]string
}

func New(maxTurns int) *ChannelHistory {
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}
	return &ChannelHistory{
		maxTurns: maxTurns,
		turns:    make(map[string][]Turn),
		topics:   make(map[string]string),
	}
}

func (h *ChannelHistory) MaxTurns() int { return h.maxTurns }

// Push appends a turn. Once the channel holds more than 2*maxTurns turns the
// oldest two are dropped together so user/assistant pairs stay aligned.
func (h *ChannelHistory) Push(channelID string, role provider.Role, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append(h.turns[channelID], Turn{Role: role, Text: text})
	for len(turns) > 2*h.maxTurns {
		turns = turns[2:]
	}
	h.turns[channelID] = turns
}

// Recent returns at most the last maxTurns turns, oldest first.
func (h *ChannelHistory) Recent(channelID string) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := h.turns[channelID]
	if len(turns) > h.maxTurns {
		turns = turns[len(turns)-h.maxTurns:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len reports how many turns the channel currently retains.
func (h *ChannelHistory) Len(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns[channelID])
}

func (h *ChannelHistory) Topic(channelID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.topics[channelID]
}

// SetTopicIfEmpty records text as the channel's root topic unless one is
// already set or text is blank. It returns the topic in effect.
func (h *ChannelHistory) SetTopicIfEmpty(channelID, text string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.topics[channelID]; ok {
		return cur
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	h.topics[channelID] = text
	return text
}

// Messages converts turns to provider messages.
func Messages(turns []Turn) []provider.Message {
	out := make([]provider.Message, len(turns))
	for i, t := range turns {
		out[i] = provider.Message{Role: t.Role, Content: t.Text}
	}
	return out
}

// Export writes the channel's retained turns to path as markdown.
func (h *ChannelHistory) Export(channelID, path string) error {
	h.mu.Lock()
	turns := append([]Turn(nil), h.turns[channelID]...)
	topic := h.topics[channelID]
	h.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Danzar: %s\n\n", channelID))
	if topic != "" {
		sb.WriteString(fmt.Sprintf("Topic: %s\n\n", topic))
	}
	for _, t := range turns {
		switch t.Role {
		case provider.RoleUser:
			sb.WriteString("## User\n")
		case provider.RoleAssistant:
			sb.WriteString("## Danzar\n")
		default:
			continue
		}
		sb.WriteString(t.Text + "\n\n")
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

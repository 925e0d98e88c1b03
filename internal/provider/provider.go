package provider

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Images holds local image paths attached to a user message. Only
	// vision-capable models accept them.
	Images []string `json:"images,omitempty"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type StreamChunk struct {
	Delta    string
	Thinking string // Model's internal reasoning/chain-of-thought
	Done     bool
	Usage    *Usage
	Error    error
}

type Provider interface {
	Chat(ctx context.Context, msgs []Message) (<-chan StreamChunk, error)
	Name() string
	ModelName() string
	Models(ctx context.Context) ([]string, error)
}

package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropic(apiKey, baseURL, model string, timeout time.Duration) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 4096,
	}
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

func (a *AnthropicProvider) ModelName() string { return a.model }

func (a *AnthropicProvider) Models(_ context.Context) ([]string, error) {
	return []string{
		"claude-sonnet-4-5",
		"claude-opus-4-1",
		"claude-3-5-haiku-latest",
	}, nil
}

func (a *AnthropicProvider) Chat(ctx context.Context, msgs []Message) (<-chan StreamChunk, error) {
	var systemPrompt string
	var apiMsgs []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += m.Content
		case RoleAssistant:
			apiMsgs = append(apiMsgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
			for _, path := range m.Images {
				block, err := anthropicImageBlock(path)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, block)
			}
			apiMsgs = append(apiMsgs, anthropic.NewUserMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  apiMsgs,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer stream.Close()
		// Claude has no native think tags but the persona may ask for them.
		var split thinkSplitter
		var usage Usage
		for stream.Next() {
			event := stream.Current()
			switch evt := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(evt.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				switch delta := evt.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					for _, c := range split.Feed(delta.Text) {
						ch <- c
					}
				case anthropic.ThinkingDelta:
					ch <- StreamChunk{Thinking: delta.Thinking}
				}
			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = int(evt.Usage.OutputTokens)
			}
		}
		for _, c := range split.Flush() {
			ch <- c
		}
		if err := stream.Err(); err != nil {
			ch <- StreamChunk{Error: fmt.Errorf("anthropic: %w", err), Done: true}
			return
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		ch <- StreamChunk{Done: true, Usage: &usage}
	}()
	return ch, nil
}

func anthropicImageBlock(path string) (anthropic.ContentBlockParamUnion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("read image: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return anthropic.NewImageBlockBase64(mt, base64.StdEncoding.EncodeToString(data)), nil
}

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint
// (LM Studio, Ollama, vLLM, OpenAI itself) over server-sent events.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAI(name, baseURL, apiKey, model string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OpenAIProvider) Name() string { return o.name }

func (o *OpenAIProvider) ModelName() string { return o.model }

func (o *OpenAIProvider) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, newStatusError(o.name, resp.StatusCode, body)
	}
	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	models := make([]string, len(result.Data))
	for i, m := range result.Data {
		models[i] = m.ID
	}
	return models, nil
}

type oaiRequest struct {
	Model         string       `json:"model"`
	Messages      []oaiMessage `json:"messages"`
	Stream        bool         `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
	Options map[string]any `json:"options,omitempty"` // For Ollama-specific parameters
}

type oaiMessage struct {
	Role string `json:"role"`
	// Content is a plain string, or a []oaiContentPart when images are attached.
	Content any `json:"content"`
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			// LM Studio and vLLM stream reasoning separately; Ollama calls it "reasoning".
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

func toOAIMessage(m Message) (oaiMessage, error) {
	if len(m.Images) == 0 {
		return oaiMessage{Role: string(m.Role), Content: m.Content}, nil
	}
	parts := []oaiContentPart{{Type: "text", Text: m.Content}}
	for _, path := range m.Images {
		url, err := imageDataURL(path)
		if err != nil {
			return oaiMessage{}, err
		}
		parts = append(parts, oaiContentPart{Type: "image_url", ImageURL: &oaiImageURL{URL: url}})
	}
	return oaiMessage{Role: string(m.Role), Content: parts}, nil
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (o *OpenAIProvider) Chat(ctx context.Context, msgs []Message) (<-chan StreamChunk, error) {
	oaiMsgs := make([]oaiMessage, len(msgs))
	for i, m := range msgs {
		om, err := toOAIMessage(m)
		if err != nil {
			return nil, err
		}
		oaiMsgs[i] = om
	}

	reqBody := oaiRequest{
		Model:    o.model,
		Messages: oaiMsgs,
		Stream:   true,
		StreamOptions: &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true},
	}

	// Ollama defaults to a 2048 token window, too small for retrieved context.
	if strings.Contains(o.baseURL, "11434") {
		reqBody.Options = map[string]any{"num_ctx": 8192}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, newStatusError(o.name, resp.StatusCode, body)
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		// Reasoning models (DeepSeek-R1, QwQ, gemma with a persona asking for it)
		// wrap their chain of thought in <think> blocks inside the content.
		var split thinkSplitter
		emit := func(chunks []StreamChunk) {
			for _, c := range chunks {
				ch <- c
			}
		}
		var usage *Usage
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				emit(split.Flush())
				ch <- StreamChunk{Done: true, Usage: usage}
				return
			}
			var chunk oaiStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = &Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
					TotalTokens:  chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if r := delta.ReasoningContent + delta.Reasoning; r != "" {
				ch <- StreamChunk{Thinking: r}
			}
			if delta.Content != "" {
				emit(split.Feed(delta.Content))
			}
		}

		// Stream ended without [DONE].
		emit(split.Flush())
		if err := scanner.Err(); err != nil {
			ch <- StreamChunk{Error: err, Done: true}
			return
		}
		ch <- StreamChunk{Done: true, Usage: usage}
	}()
	return ch, nil
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkSplitter turns raw content deltas into Delta and Thinking chunks,
// holding back any suffix that could be the start of a tag split across deltas.
type thinkSplitter struct {
	buf     strings.Builder
	inThink bool
}

func (s *thinkSplitter) Feed(content string) []StreamChunk {
	s.buf.WriteString(content)
	text := s.buf.String()
	s.buf.Reset()

	var out []StreamChunk
	for {
		tag := thinkOpen
		if s.inThink {
			tag = thinkClose
		}
		idx := strings.Index(text, tag)
		if idx == -1 {
			break
		}
		if idx > 0 {
			out = append(out, s.chunk(text[:idx]))
		}
		s.inThink = !s.inThink
		text = text[idx+len(tag):]
	}

	tag := thinkOpen
	if s.inThink {
		tag = thinkClose
	}
	keep := partialSuffix(text, tag)
	if emit := text[:len(text)-keep]; emit != "" {
		out = append(out, s.chunk(emit))
	}
	s.buf.WriteString(text[len(text)-keep:])
	return out
}

func (s *thinkSplitter) Flush() []StreamChunk {
	if s.buf.Len() == 0 {
		return nil
	}
	rest := s.buf.String()
	s.buf.Reset()
	return []StreamChunk{s.chunk(rest)}
}

func (s *thinkSplitter) chunk(text string) StreamChunk {
	if s.inThink {
		return StreamChunk{Thinking: text}
	}
	return StreamChunk{Delta: text}
}

// partialSuffix reports how many trailing bytes of text are a proper prefix of tag.
func partialSuffix(text, tag string) int {
	max := len(tag) - 1
	if len(text) < max {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return n
		}
	}
	return 0
}

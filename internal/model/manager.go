// Package model lists and pulls models on a local model server. Ollama
// exposes the full set of operations; any other OpenAI-compatible server
// (LM Studio, vLLM) can only be listed.
package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ErrUnsupported is returned by Pull and Remove when the server is not Ollama.
var ErrUnsupported = errors.New("model: operation needs an Ollama server")

type Info struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	Digest     string `json:"digest,omitempty"`
	Family     string `json:"family,omitempty"`
	Parameters string `json:"parameters,omitempty"`
	Quant      string `json:"quantization,omitempty"`
}

type PullProgress struct {
	Status    string  `json:"status"`
	Digest    string  `json:"digest,omitempty"`
	Total     int64   `json:"total,omitempty"`
	Completed int64   `json:"completed,omitempty"`
	Percent   float64 `json:"-"`
}

type Manager struct {
	root   string // server root without the /v1 suffix
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewManager takes a provider base URL such as http://localhost:11434/v1.
func NewManager(baseURL, apiKey string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	root := strings.TrimRight(baseURL, "/")
	root = strings.TrimSuffix(root, "/v1")
	return &Manager{
		root:   root,
		apiKey: apiKey,
		client: &http.Client{},
		logger: logger.With("component", "model"),
	}
}

func (m *Manager) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.root+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w", m.root, err)
	}
	return resp, nil
}

// IsOllama reports whether the server answers Ollama's version endpoint.
func (m *Manager) IsOllama(ctx context.Context) bool {
	resp, err := m.do(ctx, http.MethodGet, "/api/version", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// List returns the models the server has available.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	resp, err := m.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return decodeTags(resp.Body)
	}
	m.logger.Debug("no ollama tags endpoint, listing openai models", "status", resp.StatusCode)
	return m.listOpenAI(ctx)
}

func decodeTags(r io.Reader) ([]Info, error) {
	var result struct {
		Models []struct {
			Name    string `json:"name"`
			Size    int64  `json:"size"`
			Digest  string `json:"digest"`
			Details struct {
				Family          string `json:"family"`
				ParameterSize   string `json:"parameter_size"`
				QuantizationLvl string `json:"quantization_level"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("model: decode tags: %w", err)
	}
	out := make([]Info, len(result.Models))
	for i, rm := range result.Models {
		out[i] = Info{
			Name:       rm.Name,
			Size:       rm.Size,
			Digest:     rm.Digest,
			Family:     rm.Details.Family,
			Parameters: rm.Details.ParameterSize,
			Quant:      rm.Details.QuantizationLvl,
		}
	}
	return out, nil
}

func (m *Manager) listOpenAI(ctx context.Context) ([]Info, error) {
	resp, err := m.do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model: list failed (HTTP %d)", resp.StatusCode)
	}
	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("model: decode models: %w", err)
	}
	out := make([]Info, len(result.Data))
	for i, d := range result.Data {
		out[i] = Info{Name: d.ID}
	}
	return out, nil
}

// Pull downloads a model, reporting each streamed status line. References
// like "hf.co/user/repo" are fetched from Hugging Face by Ollama itself.
func (m *Manager) Pull(ctx context.Context, ref string, progress func(PullProgress)) error {
	if !m.IsOllama(ctx) {
		return ErrUnsupported
	}
	resp, err := m.do(ctx, http.MethodPost, "/api/pull", map[string]any{"name": ref, "stream": true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model: pull failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var p struct {
			PullProgress
			Error string `json:"error"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			continue
		}
		if p.Error != "" {
			return fmt.Errorf("model: pull %s: %s", ref, p.Error)
		}
		if p.Total > 0 {
			p.Percent = float64(p.Completed) / float64(p.Total) * 100
		}
		if progress != nil {
			progress(p.PullProgress)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	m.logger.Info("model pulled", "model", ref)
	return nil
}

func (m *Manager) Remove(ctx context.Context, name string) error {
	if !m.IsOllama(ctx) {
		return ErrUnsupported
	}
	resp, err := m.do(ctx, http.MethodDelete, "/api/delete", map[string]string{"name": name})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model: delete failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// HumanSize formats a byte count for display.
func HumanSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

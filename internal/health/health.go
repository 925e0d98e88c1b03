// Package health probes the configured model endpoints and local tools.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jeanpaul/danzar/internal/provider"
)

const probeTimeout = 10 * time.Second

type Status struct {
	Provider  string
	BaseURL   string
	Reachable bool
	Models    []string
	Error     string
	Latency   time.Duration
}

// Check verifies that a provider endpoint answers. OpenAI-compatible servers
// are asked for their model list; Anthropic gets an authenticated request.
func Check(ctx context.Context, providerType, baseURL, apiKey string) Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	s := Status{Provider: providerType, BaseURL: baseURL}
	start := time.Now()
	var err error
	switch providerType {
	case "openai":
		s.Models, err = provider.NewOpenAI("health", baseURL, apiKey, "", probeTimeout).Models(ctx)
	case "anthropic":
		err = pingAnthropic(ctx, baseURL, apiKey)
	default:
		err = fmt.Errorf("unknown provider type: %s", providerType)
	}
	s.Latency = time.Since(start)
	if err != nil {
		s.Error = provider.FriendlyError(err)
		return s
	}
	s.Reachable = true
	return s
}

var errNoAnthropicKey = errors.New("no API key configured (set ANTHROPIC_API_KEY)")

func pingAnthropic(ctx context.Context, baseURL, apiKey string) error {
	if apiKey == "" {
		return errNoAnthropicKey
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &provider.StatusError{Provider: "anthropic", Status: resp.StatusCode}
	}
	return nil
}

// CheckModel verifies that the server lists modelName. Servers that list
// nothing, and Anthropic, are given the benefit of the doubt.
func CheckModel(ctx context.Context, providerType, baseURL, apiKey, modelName string) error {
	if providerType != "openai" {
		return nil
	}
	st := Check(ctx, providerType, baseURL, apiKey)
	if !st.Reachable {
		return fmt.Errorf("provider not reachable: %s", st.Error)
	}
	if len(st.Models) == 0 || slices.Contains(st.Models, modelName) {
		return nil
	}
	return fmt.Errorf("model %q not found (available: %s)", modelName, strings.Join(st.Models, ", "))
}

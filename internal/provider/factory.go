package provider

import (
	"fmt"

	"github.com/jeanpaul/danzar/internal/config"
)

// FromConfig builds the named provider with retries. An empty name selects
// the default provider.
func FromConfig(cfg *config.Config, name string) (Provider, error) {
	if name == "" {
		name = cfg.DefaultProvider
	}
	pc, ok := cfg.ProviderFor(name)
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	var p Provider
	switch pc.Type {
	case "openai":
		p = NewOpenAI(name, pc.BaseURL, pc.APIKey, pc.Model, pc.Timeout)
	case "anthropic":
		p = NewAnthropic(pc.APIKey, pc.BaseURL, pc.Model, pc.Timeout)
	default:
		return nil, fmt.Errorf("provider %q: unsupported type %q", name, pc.Type)
	}
	return WithRetry(p, pc.MaxRetries), nil
}

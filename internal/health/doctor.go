package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeanpaul/danzar/internal/config"
	"github.com/jeanpaul/danzar/internal/vision"
)

// Result is one line of the doctor report. Optional checks that fail are
// warnings rather than errors.
type Result struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail"`
}

// Doctor checks every endpoint and local tool the configuration refers to.
func Doctor(ctx context.Context, cfg *config.Config) []Result {
	var out []Result

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := cfg.Providers[name]
		optional := name != cfg.DefaultProvider && name != cfg.Vision.Provider
		out = append(out, providerResult(ctx, "provider "+name, p, optional))
	}

	switch cfg.Embedding.Type {
	case "hash":
		out = append(out, Result{Name: "embedding", OK: true, Detail: fmt.Sprintf("offline hash embedder (%d dims)", cfg.Embedding.Dimensions)})
	default:
		out = append(out, providerResult(ctx, "embedding", config.ProviderConfig{
			Type: "openai", BaseURL: cfg.Embedding.BaseURL, APIKey: cfg.Embedding.APIKey, Model: cfg.Embedding.Model,
		}, false))
	}

	out = append(out, writable("memory log", cfg.Memory.Path))
	out = append(out, writable("settings", cfg.SettingsPath))

	ocr := vision.NewOCR(cfg.Vision.TesseractPath, cfg.Vision.TesseractPSM, nil)
	if err := ocr.Available(); err != nil {
		out = append(out, Result{Name: "ocr", Optional: true, Detail: err.Error()})
	} else {
		out = append(out, Result{Name: "ocr", OK: true, Optional: true, Detail: cfg.Vision.TesseractPath})
	}

	if cfg.Vision.ReverseSearchEnabled {
		r := Result{Name: "reverse image search", Optional: true, OK: cfg.Vision.ImgurClientID != ""}
		r.Detail = "imgur client id set"
		if !r.OK {
			r.Detail = "vision.imgur_client_id is not set"
		}
		out = append(out, r)
	}

	if cfg.Audio.Enabled {
		out = append(out, command("speech synthesis", cfg.Audio.SynthCommand))
		out = append(out, command("audio playback", cfg.Audio.PlayCommand))
	}
	out = append(out, command("screen capture", cfg.Commentator.CaptureCommand))
	return out
}

// Healthy reports whether every required check passed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.OK && !r.Optional {
			return false
		}
	}
	return true
}

func providerResult(ctx context.Context, name string, p config.ProviderConfig, optional bool) Result {
	r := Result{Name: name, Optional: optional}
	st := Check(ctx, p.Type, p.BaseURL, p.APIKey)
	if !st.Reachable {
		r.Detail = st.Error
		return r
	}
	if p.Model != "" {
		if err := CheckModel(ctx, p.Type, p.BaseURL, p.APIKey, p.Model); err != nil {
			r.Detail = err.Error()
			return r
		}
	}
	r.OK = true
	r.Detail = fmt.Sprintf("%s reachable in %s", p.Model, st.Latency.Round(time.Millisecond))
	return r
}

// command checks that the binary of a command template is on PATH.
func command(name, tmpl string) Result {
	r := Result{Name: name, Optional: true}
	fields := strings.Fields(tmpl)
	if len(fields) == 0 {
		r.Detail = "not configured"
		return r
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		r.Detail = fmt.Sprintf("%s not found in PATH", fields[0])
		return r
	}
	r.OK = true
	r.Detail = path
	return r
}

// writable checks that the directory holding path exists and accepts files.
func writable(name, path string) Result {
	r := Result{Name: name}
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".danzar-doctor-*")
	if err != nil {
		r.Detail = fmt.Sprintf("cannot write to %s: %v", dir, err)
		return r
	}
	f.Close()
	os.Remove(f.Name())
	r.OK = true
	r.Detail = path
	return r
}

// Package vision describes images: a model caption, tesseract OCR and a
// best-effort reverse image search.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeanpaul/danzar/internal/prompt"
	"github.com/jeanpaul/danzar/internal/provider"
)

// ErrNotImage is returned for paths that are missing or lack an image extension.
var ErrNotImage = errors.New("not an image file")

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".bmp": true,
}

// IsImage reports whether path is an existing regular file with an image extension.
func IsImage(path string) bool {
	if !imageExts[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

const captionInstruction = "Describe this image in one or two plain sentences. Mention any visible text, people, places or objects."

// Captioner asks a multimodal model to describe an image.
type Captioner struct {
	p      provider.Provider
	logger *slog.Logger
}

func NewCaptioner(p provider.Provider, logger *slog.Logger) *Captioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Captioner{p: p, logger: logger.With("component", "caption")}
}

func (c *Captioner) Caption(ctx context.Context, path string) (string, error) {
	if !IsImage(path) {
		return "", fmt.Errorf("caption %s: %w", path, ErrNotImage)
	}
	out, err := provider.Complete(ctx, c.p, []provider.Message{{
		Role:    provider.RoleUser,
		Content: captionInstruction,
		Images:  []string{path},
	}})
	if err != nil {
		return "", fmt.Errorf("caption %s: %w", path, err)
	}
	_, answer := prompt.SplitReasoning(out)
	c.logger.Debug("captioned image", "path", path, "chars", len(answer))
	return answer, nil
}

// Service bundles the three image operations behind one value.
type Service struct {
	*Captioner
	*OCR
	*ReverseSearcher
}

// Link is one reverse image search hit.
type Link struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// FormatLinks renders hits one per line for prompts and memory.
func FormatLinks(links []Link) string {
	if len(links) == 0 {
		return "(no matches)"
	}
	var b strings.Builder
	for i, l := range links {
		if i > 0 {
			b.WriteString("\n")
		}
		title := l.Title
		if title == "" {
			title = l.Link
		}
		fmt.Fprintf(&b, "- %s: %s", title, l.Link)
	}
	return b.String()
}

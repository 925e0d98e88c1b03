// Package ingest loads documents and web pages into memory as tagged chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jeanpaul/danzar/internal/web"
)

const DefaultChunkSize = 800

type Memory interface {
	Append(ctx context.Context, text string) error
	Persist()
}

type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string) (*web.Page, error)
}

// Result reports what happened to one source.
type Result struct {
	Source string
	Chunks int
	Err    error
}

type Ingester struct {
	mem       Memory
	pages     PageFetcher
	chunkSize int
	logger    *slog.Logger
}

func New(mem Memory, pages PageFetcher, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{mem: mem, pages: pages, chunkSize: DefaultChunkSize, logger: logger.With("component", "ingest")}
}

// Ingest expands each source (a URL, a file or a ** glob), chunks its text
// and appends every chunk tagged "doc:". The store is persisted once at the
// end if anything was added. A failing source is reported in its Result and
// does not stop the others; embedding errors abort.
func (in *Ingester) Ingest(ctx context.Context, sources []string) ([]Result, error) {
	var results []Result
	added := 0
	defer func() {
		if added > 0 {
			in.mem.Persist()
		}
	}()

	for _, src := range sources {
		targets, err := in.expand(src)
		if err != nil {
			results = append(results, Result{Source: src, Err: err})
			continue
		}
		for _, target := range targets {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			text, err := in.read(ctx, target)
			if err != nil {
				in.logger.Warn("skipping source", "source", target, "error", err)
				results = append(results, Result{Source: target, Err: err})
				continue
			}
			chunks := Chunk(text, in.chunkSize)
			for _, c := range chunks {
				if err := in.mem.Append(ctx, "doc: "+c); err != nil {
					return results, fmt.Errorf("ingest %s: %w", target, err)
				}
				added++
			}
			in.logger.Info("ingested", "source", target, "chunks", len(chunks))
			results = append(results, Result{Source: target, Chunks: len(chunks)})
		}
	}
	return results, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (in *Ingester) expand(src string) ([]string, error) {
	if isURL(src) {
		return []string{src}, nil
	}
	if !strings.ContainsAny(src, "*?[{") {
		return []string{src}, nil
	}
	matches, err := doublestar.FilepathGlob(src, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", src, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("glob %q matched no files", src)
	}
	return matches, nil
}

func (in *Ingester) read(ctx context.Context, target string) (string, error) {
	if isURL(target) {
		if in.pages == nil {
			return "", errors.New("no page fetcher configured")
		}
		page, err := in.pages.FetchPage(ctx, target)
		if err != nil {
			return "", err
		}
		if page.Markdown != "" {
			return page.Markdown, nil
		}
		return page.Text, nil
	}
	return ReadFile(target)
}

// ReadFile extracts text from a PDF, a spreadsheet, or any UTF-8 text file.
func ReadFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return parsePDF(path)
	case ".xlsx", ".xlsm", ".xltx":
		return parseExcel(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not a text file", path)
	}
	return string(data), nil
}

// Chunk splits text on blank lines. Paragraphs longer than maxChars are cut
// at the last space inside each window, or at maxChars when there is none.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkSize
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		p := strings.TrimSpace(para)
		if p == "" {
			continue
		}
		if len(p) <= maxChars {
			chunks = append(chunks, p)
			continue
		}
		for start := 0; start < len(p); {
			end := min(len(p), start+maxChars)
			if space := strings.LastIndexByte(p[start:end], ' '); space > 0 {
				end = start + space
			}
			for end < len(p) && end > start+1 && !utf8.RuneStart(p[end]) {
				end--
			}
			if c := strings.TrimSpace(p[start:end]); c != "" {
				chunks = append(chunks, c)
			}
			start = end
		}
	}
	return chunks
}

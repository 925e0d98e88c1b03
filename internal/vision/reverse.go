package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultImgurEndpoint = "https://api.imgur.com/3/image"
	lensUploadURL        = "https://lens.google.com/uploadbyurl?url="
)

// ReverseSearcher uploads an image to imgur and reads the matching pages
// Google Lens reports for the public URL.
type ReverseSearcher struct {
	clientID   string
	endpoint   string
	maxResults int
	httpClient *http.Client
	// browse loads a results page and extracts links; chromedp by default.
	browse func(ctx context.Context, pageURL string, max int) ([]Link, error)
	logger *slog.Logger
}

type ReverseOptions struct {
	ImgurClientID string
	// Endpoint overrides the imgur upload URL.
	Endpoint   string
	MaxResults int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewReverseSearcher(opts ReverseOptions) *ReverseSearcher {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultImgurEndpoint
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReverseSearcher{
		clientID:   opts.ImgurClientID,
		endpoint:   opts.Endpoint,
		maxResults: opts.MaxResults,
		httpClient: opts.HTTPClient,
		browse:     lensLinks,
		logger:     opts.Logger.With("component", "reverse-search"),
	}
}

// ReverseSearch returns up to MaxResults pages that show the image at path.
func (r *ReverseSearcher) ReverseSearch(ctx context.Context, path string) ([]Link, error) {
	if !IsImage(path) {
		return nil, fmt.Errorf("reverse search %s: %w", path, ErrNotImage)
	}
	public, err := r.upload(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reverse search: upload: %w", err)
	}
	r.logger.Debug("image uploaded", "path", path, "url", public)

	links, err := r.browse(ctx, lensUploadURL+url.QueryEscape(public), r.maxResults)
	if err != nil {
		return nil, fmt.Errorf("reverse search: %w", err)
	}
	return links, nil
}

func (r *ReverseSearcher) upload(ctx context.Context, path string) (string, error) {
	if r.clientID == "" {
		return "", errors.New("vision.imgur_client_id is not set")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Client-ID "+r.clientID)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Data struct {
			Link  string `json:"link"`
			Error any    `json:"error"`
		} `json:"data"`
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("imgur: decode (status %d): %w", resp.StatusCode, err)
	}
	if !out.Success || out.Data.Link == "" {
		return "", fmt.Errorf("imgur: status %d: %v", resp.StatusCode, out.Data.Error)
	}
	return out.Data.Link, nil
}

// lensScript collects outbound result anchors, skipping Google's own pages.
const lensScript = `(() => {
  const seen = new Set();
  const out = [];
  for (const a of document.querySelectorAll('a[href^="http"]')) {
    const href = a.href;
    const host = new URL(href).hostname;
    if (host.endsWith('google.com') || host.endsWith('gstatic.com') || seen.has(href)) continue;
    const title = (a.innerText || a.getAttribute('aria-label') || '').trim();
    if (!title) continue;
    seen.add(href);
    out.push({title: title.split('\n')[0], link: href});
  }
  return out;
})()`

func lensLinks(ctx context.Context, pageURL string, max int) ([]Link, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("user-agent", "Mozilla/5.0 (compatible; Danzar/1.0)"),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	ctx, cancel = chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, cancel = context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	var links []Link
	err := chromedp.Run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(lensScript, &links),
	)
	if err != nil {
		return nil, fmt.Errorf("browse %s: %w", pageURL, err)
	}
	if len(links) > max {
		links = links[:max]
	}
	return links, nil
}

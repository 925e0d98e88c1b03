// Package web searches DuckDuckGo and extracts readable page content.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoResults is returned when a search succeeds but yields nothing usable.
var ErrNoResults = errors.New("no web results")

const (
	defaultSearchURL = "https://html.duckduckgo.com/html/"
	userAgent        = "Mozilla/5.0 (compatible; Danzar/1.0)"
)

type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type Options struct {
	// SearchURL overrides the DuckDuckGo HTML endpoint.
	SearchURL  string
	MaxResults int
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	http       *http.Client
	searchURL  string
	maxResults int
	timeout    time.Duration
}

func New(opts Options) *Client {
	if opts.SearchURL == "" {
		opts.SearchURL = defaultSearchURL
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{
		http:       opts.HTTPClient,
		searchURL:  opts.SearchURL,
		maxResults: opts.MaxResults,
		timeout:    opts.Timeout,
	}
}

// Search runs a DuckDuckGo HTML query.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	searchURL := c.searchURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	results := parseDDGResults(string(body), c.maxResults)
	if len(results) == 0 {
		return nil, fmt.Errorf("%q: %w", query, ErrNoResults)
	}
	return results, nil
}

// SearchText runs Search and formats the snippets as one context block.
func (c *Client) SearchText(ctx context.Context, query string) (string, error) {
	results, err := c.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatSnippets(results), nil
}

// Snippets returns one line per result, newlines flattened.
func Snippets(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		body := strings.ReplaceAll(r.Snippet, "\n", " ")
		if body == "" {
			body = r.Title
		}
		out = append(out, body)
	}
	return out
}

func FormatSnippets(results []Result) string {
	return "I found these on the web:\n- " + strings.Join(Snippets(results), "\n- ")
}

// parseDDGResults reads result links and their snippets from DuckDuckGo's
// HTML page. Redirect links are unwrapped to the target URL.
func parseDDGResults(html string, max int) []Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var results []Result
	doc.Find("a.result__a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if u, err := url.Parse(href); err == nil {
			if actual := u.Query().Get("uddg"); actual != "" {
				href = actual
			}
		}
		snippet := a.Closest(".result").Find(".result__snippet").First().Text()
		results = append(results, Result{
			Title:   collapseSpace(a.Text()),
			URL:     href,
			Snippet: collapseSpace(snippet),
		})
		return len(results) < max
	})
	return results
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

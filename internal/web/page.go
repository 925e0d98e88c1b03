package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
)

type Page struct {
	URL      string
	Title    string
	Byline   string
	Markdown string
	Text     string
}

// FetchPage downloads rawURL and extracts its main article. HTML is reduced
// with readability then converted to Markdown; plain text passes through.
func (c *Client) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d error reading page", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, 4<<20)
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/plain") {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		text := string(data)
		return &Page{URL: rawURL, Markdown: text, Text: text}, nil
	}

	article, err := readability.FromReader(body, u)
	if err != nil {
		return nil, fmt.Errorf("failed to parse readability: %w", err)
	}

	page := &Page{
		URL:    rawURL,
		Title:  article.Title,
		Byline: article.Byline,
		Text:   strings.TrimSpace(article.TextContent),
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(article.Content)
	if err != nil {
		// Fall back to the text content.
		markdown = page.Text
	}
	page.Markdown = strings.TrimSpace(markdown)
	return page, nil
}

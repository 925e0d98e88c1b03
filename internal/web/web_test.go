package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgPage = `<html><body>
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Ffire&amp;rut=x">Fire &amp; <b>Flame</b></a>
  <a class="result__snippet" href="#">Fire is the rapid oxidation of a material.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://example.org/water">Water</a>
  <a class="result__snippet" href="#">Water puts out &quot;fire&quot;.</a>
</div>
</body></html>`

func TestParseDDGResults(t *testing.T) {
	rs := parseDDGResults(ddgPage, 10)
	require.Len(t, rs, 2)
	assert.Equal(t, "Fire & Flame", rs[0].Title)
	assert.Equal(t, "https://example.com/fire", rs[0].URL)
	assert.Equal(t, "Fire is the rapid oxidation of a material.", rs[0].Snippet)
	assert.Equal(t, "https://example.org/water", rs[1].URL)
	assert.Equal(t, `Water puts out "fire".`, rs[1].Snippet)
}

func TestSearchTextAgainstStubServer(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Contains(t, r.Header.Get("User-Agent"), "Danzar")
		io.WriteString(w, ddgPage)
	}))
	defer server.Close()

	c := New(Options{SearchURL: server.URL, MaxResults: 5})
	text, err := c.SearchText(context.Background(), "what is fire")
	require.NoError(t, err)

	assert.Equal(t, "what is fire", gotQuery)
	assert.Equal(t, "I found these on the web:\n- Fire is the rapid oxidation of a material.\n- Water puts out \"fire\".", text)
}

func TestSearchNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>No results.</body></html>")
	}))
	defer server.Close()

	_, err := New(Options{SearchURL: server.URL}).Search(context.Background(), "zzz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoResults))
}

func TestSearchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := New(Options{SearchURL: server.URL}).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSnippetsFallsBackToTitle(t *testing.T) {
	assert.Equal(t, []string{"Title only", "a b"}, Snippets([]Result{
		{Title: "Title only"},
		{Title: "x", Snippet: "a\nb"},
	}))
}

func TestFetchPageExtractsArticle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>On Fire</title></head><body>
<nav>Home | About</nav>
<article><h1>On Fire</h1>
<p>Fire needs fuel, heat and oxygen. Remove any one of them and the flame dies out quickly.</p>
<p>Water cools the fuel below its ignition point, which is why it works on most wood fires.</p>
<p>Grease fires are different because water spreads burning oil across the kitchen surface.</p>
</article></body></html>`)
	}))
	defer server.Close()

	page, err := New(Options{}).FetchPage(context.Background(), server.URL+"/fire")
	require.NoError(t, err)
	assert.Contains(t, page.Text, "Fire needs fuel")
	assert.Contains(t, page.Markdown, "Grease fires are different")
}

func TestFetchPagePlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "just text")
	}))
	defer server.Close()

	page, err := New(Options{}).FetchPage(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "just text", page.Text)
}

func TestFetchPageRejectsBadURL(t *testing.T) {
	_, err := New(Options{}).FetchPage(context.Background(), "not a url")
	assert.Error(t, err)
}

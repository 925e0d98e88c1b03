package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/danzar/internal/commentator"
	"github.com/jeanpaul/danzar/internal/dispatcher"
	"github.com/jeanpaul/danzar/internal/provider"
	"github.com/jeanpaul/danzar/internal/session"
)

// echoDispatcher answers every item with "echo: <text>" after a placeholder.
type echoDispatcher struct {
	mu    sync.Mutex
	items []dispatcher.Item
	err   error
}

func (d *echoDispatcher) Submit(ctx context.Context, it dispatcher.Item) error {
	if d.err != nil {
		return d.err
	}
	d.mu.Lock()
	d.items = append(d.items, it)
	d.mu.Unlock()
	go func() {
		h, err := it.Reply.Send(context.Background(), it.Author+" Thinking…")
		if err != nil {
			return
		}
		text := it.Payload.Text
		if it.Payload.Kind == dispatcher.KindImage {
			text = "image " + it.Payload.Path
		}
		_ = h.Edit(context.Background(), "echo: "+text)
	}()
	return nil
}

func (d *echoDispatcher) Pending() int { return 0 }

func (d *echoDispatcher) submitted() []dispatcher.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatcher.Item(nil), d.items...)
}

// cannedLLM answers every request with the same text.
type cannedLLM struct{ reply string }

func (l cannedLLM) Name() string                             { return "canned" }
func (l cannedLLM) ModelName() string                        { return "canned-1" }
func (l cannedLLM) Models(context.Context) ([]string, error) { return nil, nil }
func (l cannedLLM) Chat(context.Context, []provider.Message) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Delta: l.reply}
	ch <- provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

type fakeSessions struct{}

func (fakeSessions) Teach(ctx context.Context, req session.TeachRequest) (session.Report, error) {
	for i := 1; i <= req.Turns; i++ {
		if _, err := req.Channel.Send(ctx, fmt.Sprintf("round %d", i)); err != nil {
			return session.Report{}, err
		}
	}
	return session.Report{ID: req.ID, Kind: session.KindTeach, Rounds: req.Turns, Message: "done"}, nil
}

func (fakeSessions) Research(_ context.Context, req session.ResearchRequest) (session.Report, error) {
	return session.Report{ID: req.ID, Kind: session.KindResearch, Minutes: req.Minutes, Message: "done"}, nil
}

type fakeCommentator struct {
	mu      sync.Mutex
	running bool
	target  commentator.Target
}

func (c *fakeCommentator) Start(_ context.Context, t commentator.Target) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false, nil
	}
	c.running, c.target = true, t
	return true, nil
}

func (c *fakeCommentator) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.running
	c.running = false
	return was
}

func (c *fakeCommentator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func newTestServer(t *testing.T, d Dispatcher, token string) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Options{
		Dispatcher:   d,
		Sessions:     fakeSessions{},
		Commentator:  &fakeCommentator{},
		MemorySize:   func() int { return 7 },
		AuthToken:    token,
		ReplyTimeout: 2 * time.Second,
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, &echoDispatcher{}, "secret")

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 7, body.Memory)
}

func TestBearerAuth(t *testing.T) {
	_, ts := newTestServer(t, &echoDispatcher{}, "secret")

	resp, _ := post(t, ts.URL+"/v1/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/messages", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestPostMessageWaitsForFinalReply(t *testing.T) {
	d := &echoDispatcher{}
	_, ts := newTestServer(t, d, "")

	resp, body := post(t, ts.URL+"/v1/messages", `{"author":"Ana","channel":"lobby","text":"what is fire?"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo: what is fire?", body["reply"])
	assert.NotEmpty(t, body["id"])

	items := d.submitted()
	require.Len(t, items, 1)
	assert.Equal(t, "Ana", items[0].Author)
	assert.Equal(t, "lobby", items[0].Channel)
}

func TestPostMessageValidation(t *testing.T) {
	_, ts := newTestServer(t, &echoDispatcher{}, "")

	cases := map[string]string{
		"empty":         `{}`,
		"unknown field": `{"txt":"hi"}`,
		"not an image":  `{"image_path":"/etc/passwd"}`,
		"malformed":     `{"text":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/messages", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestPostMessageQueueFull(t *testing.T) {
	_, ts := newTestServer(t, &echoDispatcher{err: dispatcher.ErrQueueFull}, "")

	resp, body := post(t, ts.URL+"/v1/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body["error"], "queue")
}

func TestTeachRunsInBackground(t *testing.T) {
	_, ts := newTestServer(t, &echoDispatcher{}, "")

	resp, body := post(t, ts.URL+"/v1/teach", `{"topic":"fire magic","turns":2}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "teach", body["kind"])

	var view sessionView
	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/v1/sessions/" + id)
		if err != nil {
			return false
		}
		defer r.Body.Close()
		view = sessionView{}
		return json.NewDecoder(r.Body).Decode(&view) == nil && !view.Running
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, view.Report)
	assert.Equal(t, 2, view.Report.Rounds)
	assert.Equal(t, []string{"round 1", "round 2"}, view.Messages)
}

func TestSessionValidation(t *testing.T) {
	_, ts := newTestServer(t, &echoDispatcher{}, "")

	resp, _ := post(t, ts.URL+"/v1/teach", `{"topic":"x","turns":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = post(t, ts.URL+"/v1/research", `{"topic":"","minutes":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = post(t, ts.URL+"/v1/research", `{"topic":"runes","minutes":0}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	r, err := http.Get(ts.URL + "/v1/sessions/missing")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestToggleCommentator(t *testing.T) {
	s, ts := newTestServer(t, &echoDispatcher{}, "")

	resp, body := post(t, ts.URL+"/v1/commentator", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, true, body["changed"])

	fc := s.commentator.(*fakeCommentator)
	assert.Equal(t, "commentator", fc.target.Channel)
	assert.Same(t, s.Hub(), fc.target.Reply)

	_, body = post(t, ts.URL+"/v1/commentator", `{"enabled":true}`)
	assert.Equal(t, false, body["changed"])

	_, body = post(t, ts.URL+"/v1/commentator", `{"enabled":false}`)
	assert.Equal(t, false, body["running"])
	assert.Equal(t, true, body["changed"])
}

func TestWebsocketRoundTrip(t *testing.T) {
	d := &echoDispatcher{}
	s, ts := newTestServer(t, d, "")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello there")))

	var first, second wsEvent
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "send", first.Type)
	assert.Equal(t, "user Thinking…", first.Text)
	assert.Equal(t, "edit", second.Type)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "echo: hello there", second.Text)

	items := d.submitted()
	require.Len(t, items, 1)
	assert.True(t, strings.HasPrefix(items[0].Channel, "ws-"))
	assert.Equal(t, 1, s.Hub().Clients())

	// Hub messages reach the socket too.
	_, err = s.Hub().Send(context.Background(), "broadcast")
	require.NoError(t, err)
	var third wsEvent
	require.NoError(t, conn.ReadJSON(&third))
	assert.Equal(t, "broadcast", third.Text)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestPostMessageImageOwnership(t *testing.T) {
	uploads := t.TempDir()
	d := dispatcher.New(dispatcher.Options{LLM: cannedLLM{reply: "a sunny beach"}})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = d.Run(ctx) }()

	s := New(Options{Dispatcher: d, ReplyTimeout: 2 * time.Second, UploadDir: uploads})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	photo := filepath.Join(t.TempDir(), "family.jpg")
	require.NoError(t, os.WriteFile(photo, []byte("jpg"), 0o644))
	resp, body := post(t, ts.URL+"/v1/messages", fmt.Sprintf(`{"image_path":%q}`, photo))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a sunny beach", body["reply"])
	assert.FileExists(t, photo)

	raw, err := json.Marshal(map[string]any{"image": pngHeader})
	require.NoError(t, err)
	resp, body = post(t, ts.URL+"/v1/messages", string(raw))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a sunny beach", body["reply"])
	left, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPostMessageUploadIsTemporaryImage(t *testing.T) {
	uploads := t.TempDir()
	d := &echoDispatcher{}
	s := New(Options{Dispatcher: d, ReplyTimeout: 2 * time.Second, UploadDir: uploads})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	raw, err := json.Marshal(map[string]any{"image": pngHeader})
	require.NoError(t, err)
	resp, _ := post(t, ts.URL+"/v1/messages", string(raw))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	items := d.submitted()
	require.Len(t, items, 1)
	p := items[0].Payload
	assert.True(t, p.Owned)
	assert.Equal(t, uploads, filepath.Dir(p.Path))
	assert.Equal(t, ".png", filepath.Ext(p.Path))
	data, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	raw, err = json.Marshal(map[string]any{"image": []byte("plain text, not a picture")})
	require.NoError(t, err)
	resp, _ = post(t, ts.URL+"/v1/messages", string(raw))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	left, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestPostMessageQueueFullRemovesUpload(t *testing.T) {
	uploads := t.TempDir()
	s := New(Options{Dispatcher: &echoDispatcher{err: dispatcher.ErrQueueFull}, UploadDir: uploads})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	raw, err := json.Marshal(map[string]any{"image": pngHeader})
	require.NoError(t, err)
	resp, _ := post(t, ts.URL+"/v1/messages", string(raw))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	left, err := os.ReadDir(uploads)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFinishedSessionsExpire(t *testing.T) {
	s := New(Options{Dispatcher: &echoDispatcher{}, Sessions: fakeSessions{}, RunTTL: 20 * time.Millisecond})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	resp, body := post(t, ts.URL+"/v1/research", `{"topic":"runes","minutes":0}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	status := func(id string) int {
		r, err := http.Get(ts.URL + "/v1/sessions/" + id)
		require.NoError(t, err)
		r.Body.Close()
		return r.StatusCode
	}
	require.Eventually(t, func() bool { return status(id) == http.StatusNotFound }, 2*time.Second, 10*time.Millisecond)

	for range 3 {
		post(t, ts.URL+"/v1/research", `{"topic":"runes","minutes":0}`)
	}
	time.Sleep(50 * time.Millisecond)
	post(t, ts.URL+"/v1/research", `{"topic":"runes","minutes":0}`)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.runs, 1)
}

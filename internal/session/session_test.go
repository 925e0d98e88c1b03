package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/provider"
	"github.com/jeanpaul/danzar/internal/vision"
	"github.com/jeanpaul/danzar/internal/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM answers by prompt kind and counts calls per kind.
type scriptedLLM struct {
	mu       sync.Mutex
	summary  string
	followUp func(round int) string
	thought  string
	fail     map[string]error
	calls    map[string]int
}

func (s *scriptedLLM) Name() string                             { return "scripted" }
func (s *scriptedLLM) ModelName() string                        { return "scripted" }
func (s *scriptedLLM) Models(context.Context) ([]string, error) { return nil, nil }

func (s *scriptedLLM) Chat(_ context.Context, msgs []provider.Message) (<-chan provider.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	kind := "thought"
	switch {
	case strings.Contains(msgs[0].Content, "summarizing research"):
		kind = "summary"
	case strings.Contains(msgs[0].Content, "follow-up question"):
		kind = "followup"
	}
	s.calls[kind]++
	if err := s.fail[kind]; err != nil {
		return nil, err
	}
	var reply string
	switch kind {
	case "summary":
		reply = s.summary
	case "followup":
		reply = s.followUp(s.calls[kind])
	default:
		reply = s.thought
	}
	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Delta: reply}
	ch <- provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *scriptedLLM) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func numbered(round int) string {
	return "Why does fire need oxygen " + strings.Repeat("really ", round-1) + "?"
}

type fakeMemory struct {
	mu       sync.Mutex
	texts    []string
	persists int
}

func (m *fakeMemory) Append(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *fakeMemory) Persist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persists++
}

func (m *fakeMemory) withPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, t := range m.texts {
		if strings.HasPrefix(t, prefix) {
			out = append(out, t)
		}
	}
	return out
}

type stubSearch struct {
	err error
}

func (s stubSearch) Search(_ context.Context, q string) ([]web.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []web.Result{{Title: "t", Snippet: "about " + q}, {Title: "only title"}}, nil
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func newRunner(llm *scriptedLLM, mem *fakeMemory, mutate func(*Options)) *Runner {
	opts := Options{
		LLM:         llm,
		Memory:      mem,
		Web:         stubSearch{},
		Personality: func() string { return "You are Danzar." },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func messagesWithPrefix(rec *connector.Recorder, prefix string) []string {
	var out []string
	for _, m := range rec.Messages() {
		if strings.HasPrefix(m, prefix) {
			out = append(out, m)
		}
	}
	return out
}

func TestTeachRunsExactlyTheRequestedRounds(t *testing.T) {
	llm := &scriptedLLM{summary: "- fire is hot", followUp: numbered}
	mem := &fakeMemory{}
	rec := connector.NewRecorder()

	rep, err := newRunner(llm, mem, nil).Teach(context.Background(), TeachRequest{Topic: "fire", Turns: 3, Channel: rec})
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Rounds)
	assert.Equal(t, KindTeach, rep.Kind)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, "✅ Teaching complete: 3 rounds.", rep.Message)

	msgs := rec.Messages()
	assert.Equal(t, rep.Message, msgs[len(msgs)-1])
	assert.Equal(t, []string{
		"❓ Round 1: fire",
		"❓ Round 2: " + numbered(1),
		"❓ Round 3: " + numbered(2),
	}, messagesWithPrefix(rec, "❓ Round"))
	assert.Equal(t, 3, llm.count("summary"))
	assert.Equal(t, 3, llm.count("followup"))
	assert.Zero(t, llm.count("thought"))

	assert.Len(t, mem.withPrefix("search: "), 3)
	assert.Equal(t, []string{"summary: - fire is hot", "summary: - fire is hot", "summary: - fire is hot"}, mem.withPrefix("summary: "))
	assert.Len(t, mem.withPrefix("follow_up: "), 3)
	assert.Equal(t, 4, mem.persists, "once per round and once at the end")

	assert.Contains(t, rec.Messages(), "🔍 Snippets:\n- about fire\n- only title")
}

func TestTeachZeroTurns(t *testing.T) {
	llm := &scriptedLLM{followUp: numbered}
	rec := connector.NewRecorder()
	rep, err := newRunner(llm, &fakeMemory{}, nil).Teach(context.Background(), TeachRequest{Topic: "fire", Turns: 0, Channel: rec})
	require.NoError(t, err)
	assert.Zero(t, rep.Rounds)
	assert.Equal(t, []string{"✅ Teaching complete: 0 rounds."}, rec.Messages())
}

func TestResearchZeroMinutesRunsNoRounds(t *testing.T) {
	llm := &scriptedLLM{followUp: numbered}
	mem := &fakeMemory{}
	rec := connector.NewRecorder()

	rep, err := newRunner(llm, mem, nil).Research(context.Background(), ResearchRequest{Topic: "lava", Minutes: 0, Channel: rec})
	require.NoError(t, err)

	assert.Zero(t, rep.Rounds)
	assert.Zero(t, rep.Minutes)
	assert.Equal(t, KindResearch, rep.Kind)
	assert.Equal(t, []string{"✅ Research complete: 0 minutes (0 rounds indexed)."}, rec.Messages())
	assert.Zero(t, llm.count("summary")+llm.count("followup")+llm.count("thought"))
	assert.Empty(t, mem.texts)
	assert.Equal(t, 1, mem.persists)
}

func TestResearchSearchFailureSkipsSummaryAndAdvances(t *testing.T) {
	llm := &scriptedLLM{followUp: func(int) string { return "How does lava cool?" }}
	mem := &fakeMemory{}
	rec := connector.NewRecorder()
	clock := &stepClock{t: time.Unix(0, 0), step: 20 * time.Second}
	r := newRunner(llm, mem, func(o *Options) {
		o.Web = stubSearch{err: errors.New("search failed: HTTP 503")}
		o.Now = clock.Now
	})

	rep, err := r.Research(context.Background(), ResearchRequest{Topic: "lava", Minutes: 1, Channel: rec})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Rounds)
	assert.Equal(t, "✅ Research complete: 1 minutes (1 rounds indexed).", rep.Message)
	assert.Contains(t, rec.Messages(), skipSummary)
	assert.Contains(t, rec.Messages(), "⚠️ search failed: HTTP 503")
	assert.Contains(t, rec.Messages(), "➡️ Next: How does lava cool?")
	assert.Contains(t, rec.Messages(), "⏳ Time left: 00:20")
	assert.Zero(t, llm.count("summary"))
	assert.Equal(t, []string{"search: [search failed: search failed: HTTP 503]"}, mem.withPrefix("search: "))
	assert.Empty(t, mem.withPrefix("summary: "))
}

func TestResearchThinkAloud(t *testing.T) {
	llm := &scriptedLLM{summary: "- ok", thought: "to learn", followUp: numbered}
	rec := connector.NewRecorder()
	clock := &stepClock{t: time.Unix(0, 0), step: 20 * time.Second}
	r := newRunner(llm, &fakeMemory{}, func(o *Options) {
		o.ThinkAloud = true
		o.Now = clock.Now
	})

	_, err := r.Research(context.Background(), ResearchRequest{Topic: "lava", Minutes: 1, Channel: rec})
	require.NoError(t, err)
	assert.Equal(t, "🔄 Research Round 1: Question → “lava”", rec.Messages()[0])
	assert.Equal(t, "<think>to learn</think>", rec.Messages()[1])
	assert.Equal(t, 1, llm.count("thought"))
}

func TestFollowUpTakesLastQuestionLine(t *testing.T) {
	llm := &scriptedLLM{summary: "- s", followUp: func(int) string {
		return "Here is one:\nWhat about embers?\nHope that helps."
	}}
	rec := connector.NewRecorder()
	_, err := newRunner(llm, &fakeMemory{}, nil).Teach(context.Background(), TeachRequest{Topic: "fire", Turns: 2, Channel: rec})
	require.NoError(t, err)
	assert.Equal(t, []string{"❓ Round 1: fire", "❓ Round 2: What about embers?"}, messagesWithPrefix(rec, "❓ Round"))
}

func TestFollowUpWithoutQuestionKeepsPrevious(t *testing.T) {
	llm := &scriptedLLM{summary: "- s", followUp: func(int) string { return "I cannot think of one." }}
	rec := connector.NewRecorder()
	_, err := newRunner(llm, &fakeMemory{}, nil).Teach(context.Background(), TeachRequest{Topic: "fire", Turns: 2, Channel: rec})
	require.NoError(t, err)
	assert.Equal(t, []string{"❓ Round 1: fire", "❓ Round 2: fire"}, messagesWithPrefix(rec, "❓ Round"))
}

func TestLLMFailuresNeverStopTheLoop(t *testing.T) {
	boom := errors.New("model crashed")
	llm := &scriptedLLM{followUp: numbered, fail: map[string]error{"summary": boom, "followup": boom}}
	mem := &fakeMemory{}
	rec := connector.NewRecorder()

	rep, err := newRunner(llm, mem, nil).Teach(context.Background(), TeachRequest{Topic: "fire", Turns: 2, Channel: rec})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Rounds)
	assert.Contains(t, rec.Messages(), "📝 Summary:\n[summary failed: model crashed]")
	assert.Equal(t, []string{"❓ Round 1: fire", "❓ Round 2: fire"}, messagesWithPrefix(rec, "❓ Round"))
}

type stubCaptioner struct{ caption string }

func (s stubCaptioner) Caption(context.Context, string) (string, error) { return s.caption, nil }

type stubReverse struct{ err error }

func (s stubReverse) ReverseSearch(context.Context, string) ([]vision.Link, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []vision.Link{{Title: "Fuji", Link: "https://example.com/fuji"}}, nil
}

func TestResearchImageRound(t *testing.T) {
	img := filepath.Join(t.TempDir(), "peak.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG"), 0o644))

	llm := &scriptedLLM{summary: "- a mountain", followUp: func(int) string { return "no idea" }}
	mem := &fakeMemory{}
	rec := connector.NewRecorder()
	clock := &stepClock{t: time.Unix(0, 0), step: 20 * time.Second}
	r := newRunner(llm, mem, func(o *Options) {
		o.Captioner = stubCaptioner{caption: "a snowy volcano"}
		o.Reverse = stubReverse{}
		o.Now = clock.Now
	})

	rep, err := r.Research(context.Background(), ResearchRequest{Topic: img, Minutes: 1, Channel: rec})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rounds)
	assert.Equal(t, []string{"caption: a snowy volcano"}, mem.withPrefix("caption: "))
	assert.Equal(t, []string{"vision: - Fuji: https://example.com/fuji"}, mem.withPrefix("vision: "))
	assert.Empty(t, mem.withPrefix("search: "))
	assert.Contains(t, rec.Messages(), "➡️ Next: a snowy volcano")
}

func TestCancelledSessionStillReports(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mem := &fakeMemory{}
	rec := connector.NewRecorder()

	rep, err := newRunner(&scriptedLLM{followUp: numbered}, mem, nil).Teach(ctx, TeachRequest{Topic: "fire", Turns: 5, Channel: rec})
	require.NoError(t, err)
	assert.Zero(t, rep.Rounds)
	assert.Equal(t, []string{"✅ Teaching complete: 0 rounds."}, rec.Messages())
	assert.Equal(t, 1, mem.persists)
}

func TestRequestValidation(t *testing.T) {
	r := newRunner(&scriptedLLM{followUp: numbered}, &fakeMemory{}, nil)
	_, err := r.Teach(context.Background(), TeachRequest{Topic: "  ", Turns: 1, Channel: connector.NewRecorder()})
	assert.Error(t, err)
	_, err = r.Research(context.Background(), ResearchRequest{Topic: "x", Minutes: 1})
	assert.Error(t, err)
}

func TestExtractFollowUp(t *testing.T) {
	cases := []struct {
		name, raw, prev, want string
	}{
		{"trailing question", "  What next?  ", "p", "What next?"},
		{"multi-line ending in question", "Sure.\nWhat next?", "p", "Sure.\nWhat next?"},
		{"last question line wins", "Why?\nHow?\nThat is all.", "p", "How?"},
		{"question line is trimmed", "intro\n   Where now?   \nbye", "p", "Where now?"},
		{"no question", "No questions here.", "p", "p"},
		{"empty", "", "p", "p"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractFollowUp(tc.raw, tc.prev))
		})
	}
}

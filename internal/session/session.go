// Package session runs unattended teach and research loops: ask, fetch
// context, summarise, pick the next question, repeat until the round or
// time budget runs out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeanpaul/danzar/internal/connector"
	"github.com/jeanpaul/danzar/internal/prompt"
	"github.com/jeanpaul/danzar/internal/provider"
	"github.com/jeanpaul/danzar/internal/settings"
	"github.com/jeanpaul/danzar/internal/vision"
	"github.com/jeanpaul/danzar/internal/web"
)

type Kind string

const (
	KindTeach    Kind = "teach"
	KindResearch Kind = "research"
)

const skipSummary = "⚠️ Skipping summary—no web results."

// Memory is the durable note store shared with the dispatcher.
type Memory interface {
	Append(ctx context.Context, text string) error
	Persist()
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]web.Result, error)
}

type Captioner interface {
	Caption(ctx context.Context, path string) (string, error)
}

type ReverseSearcher interface {
	ReverseSearch(ctx context.Context, path string) ([]vision.Link, error)
}

// State is the loop's position. Exactly one of Deadline and RoundsRemaining is set.
type State struct {
	RootTopic       string
	CurrentQuestion string
	Round           int
	Deadline        *time.Time
	RoundsRemaining *int
}

type TeachRequest struct {
	ID      string
	Topic   string
	Turns   int
	Channel connector.Channel
}

type ResearchRequest struct {
	ID      string
	Topic   string
	Minutes int
	Channel connector.Channel
}

type Report struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Rounds  int    `json:"rounds"`
	Minutes int    `json:"minutes,omitempty"`
	Message string `json:"message"`
}

type Options struct {
	LLM       provider.Provider
	Memory    Memory
	Web       Searcher
	Captioner Captioner
	Reverse   ReverseSearcher
	// Personality is read once per session.
	Personality func() string
	// ThinkAloud posts a short private thought before each research round.
	ThinkAloud bool
	RoundPause time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

type Runner struct {
	llm         provider.Provider
	mem         Memory
	web         Searcher
	captioner   Captioner
	reverse     ReverseSearcher
	personality func() string
	thinkAloud  bool
	pause       time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Personality == nil {
		opts.Personality = func() string { return settings.DefaultPersonality }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		llm:         provider.Serialize(opts.LLM),
		mem:         opts.Memory,
		web:         opts.Web,
		captioner:   opts.Captioner,
		reverse:     opts.Reverse,
		personality: opts.Personality,
		thinkAloud:  opts.ThinkAloud,
		pause:       opts.RoundPause,
		now:         opts.Now,
		logger:      opts.Logger.With("component", "session"),
	}
}

// loop carries one running session.
type loop struct {
	r           *Runner
	id          string
	kind        Kind
	st          State
	out         connector.Channel
	personality string
	logger      *slog.Logger
}

func (r *Runner) start(id string, kind Kind, topic string, out connector.Channel) (*loop, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("session: topic is required")
	}
	if out == nil {
		return nil, errors.New("session: output channel is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &loop{
		r:           r,
		id:          id,
		kind:        kind,
		st:          State{RootTopic: topic, CurrentQuestion: topic, Round: 1},
		out:         out,
		personality: r.personality(),
		logger:      r.logger.With("session", id, "kind", string(kind)),
	}, nil
}

// Teach runs exactly req.Turns rounds unless ctx is cancelled first.
func (r *Runner) Teach(ctx context.Context, req TeachRequest) (Report, error) {
	l, err := r.start(req.ID, KindTeach, req.Topic, req.Channel)
	if err != nil {
		return Report{}, err
	}
	remaining := max(req.Turns, 0)
	l.st.RoundsRemaining = &remaining
	l.logger.Info("teaching started", "topic", l.st.RootTopic, "turns", req.Turns)

	for *l.st.RoundsRemaining > 0 && ctx.Err() == nil {
		l.send(ctx, fmt.Sprintf("❓ Round %d: %s", l.st.Round, l.st.CurrentQuestion))
		l.remember(ctx, "user: "+l.st.CurrentQuestion)
		snippets, ok := l.searchContext(ctx, "🔍 Snippets:")
		summary := l.summarise(ctx, snippets, ok)
		l.advance(ctx, summary, l.st.CurrentQuestion)
		*l.st.RoundsRemaining--
	}

	rounds := l.st.Round - 1
	return l.finish(ctx, Report{
		Rounds:  rounds,
		Message: fmt.Sprintf("✅ Teaching complete: %d rounds.", rounds),
	}), nil
}

// Research runs rounds until req.Minutes of wall-clock time have passed. A
// round that has started always completes.
func (r *Runner) Research(ctx context.Context, req ResearchRequest) (Report, error) {
	l, err := r.start(req.ID, KindResearch, req.Topic, req.Channel)
	if err != nil {
		return Report{}, err
	}
	minutes := max(req.Minutes, 0)
	deadline := r.now().Add(time.Duration(minutes) * time.Minute)
	l.st.Deadline = &deadline
	l.logger.Info("research started", "topic", l.st.RootTopic, "minutes", minutes)

	for r.now().Before(deadline) && ctx.Err() == nil {
		q := l.st.CurrentQuestion
		l.send(ctx, fmt.Sprintf("🔄 Research Round %d: Question → “%s”", l.st.Round, q))
		if r.thinkAloud {
			l.think(ctx, q)
		}
		l.remember(ctx, "user: "+q)

		if vision.IsImage(q) {
			found, caption := l.imageContext(ctx, q)
			summary := l.summarise(ctx, found, true)
			fallback := q
			if caption != "" {
				fallback = caption
			}
			l.advance(ctx, summary, fallback)
		} else {
			snippets, ok := l.searchContext(ctx, "🔍 Web results:")
			summary := l.summarise(ctx, snippets, ok)
			l.advance(ctx, summary, q)
		}

		left := max(deadline.Sub(r.now()), 0).Round(time.Second)
		l.send(ctx, fmt.Sprintf("⏳ Time left: %02d:%02d", int(left.Minutes()), int(left.Seconds())%60))
		if !sleep(ctx, r.pause) {
			break
		}
	}

	rounds := l.st.Round - 1
	return l.finish(ctx, Report{
		Rounds:  rounds,
		Minutes: minutes,
		Message: fmt.Sprintf("✅ Research complete: %d minutes (%d rounds indexed).", minutes, rounds),
	}), nil
}

func (l *loop) finish(ctx context.Context, rep Report) Report {
	if l.r.mem != nil {
		l.r.mem.Persist()
	}
	rep.ID, rep.Kind = l.id, l.kind
	// The closing message goes out even when the session was cancelled.
	l.send(context.WithoutCancel(ctx), rep.Message)
	l.logger.Info("session finished", "rounds", rep.Rounds, "cancelled", ctx.Err() != nil)
	return rep
}

func (l *loop) send(ctx context.Context, text string) {
	if _, err := l.out.Send(ctx, text); err != nil {
		l.logger.Warn("could not post session message", "error", err)
	}
}

func (l *loop) remember(ctx context.Context, text string) {
	if l.r.mem == nil {
		return
	}
	if err := l.r.mem.Append(ctx, text); err != nil {
		l.logger.Warn("could not index note", "round", l.st.Round, "error", err)
	}
}

func (l *loop) complete(ctx context.Context, msgs []provider.Message) (string, error) {
	out, err := provider.Complete(ctx, l.r.llm, msgs)
	if err != nil {
		return "", err
	}
	_, answer := prompt.SplitReasoning(out)
	return answer, nil
}

func (l *loop) think(ctx context.Context, q string) {
	thought, err := provider.Complete(ctx, l.r.llm, prompt.ThoughtPrompt(l.personality, q))
	if err != nil {
		l.logger.Warn("thought failed", "round", l.st.Round, "error", err)
		l.send(ctx, "⚠️ Thought gen failed: "+provider.FriendlyError(err))
		return
	}
	reasoning, answer := prompt.SplitReasoning(thought)
	if reasoning != "" {
		answer = strings.TrimSpace(reasoning + "\n\n" + answer)
	}
	l.send(ctx, "<think>"+answer+"</think>")
}

// searchContext returns the snippet block and whether the search produced
// results. A failure yields a bracketed error that is still indexed.
func (l *loop) searchContext(ctx context.Context, header string) (string, bool) {
	q := l.st.CurrentQuestion
	var (
		results []web.Result
		err     = errors.New("web search is not configured")
	)
	if l.r.web != nil {
		results, err = l.r.web.Search(ctx, q)
	}
	if err != nil {
		l.logger.Warn("web search failed", "round", l.st.Round, "query", q, "error", err)
		l.send(ctx, "⚠️ "+err.Error())
		snippets := fmt.Sprintf("[search failed: %v]", err)
		l.remember(ctx, "search: "+snippets)
		return snippets, false
	}
	snippets := "- " + strings.Join(web.Snippets(results), "\n- ")
	l.send(ctx, header+"\n"+snippets)
	l.remember(ctx, "search: "+snippets)
	return snippets, true
}

// imageContext captions the image and looks it up by reverse search. It
// returns the combined context and the caption, empty when captioning failed.
func (l *loop) imageContext(ctx context.Context, path string) (string, string) {
	var caption string
	captionText := "[caption failed: no captioner configured]"
	if l.r.captioner != nil {
		c, err := l.r.captioner.Caption(ctx, path)
		if err != nil {
			captionText = fmt.Sprintf("[caption failed: %v]", err)
		} else {
			caption, captionText = c, c
		}
	}
	l.send(ctx, "🖼️ Caption: "+captionText)
	l.remember(ctx, "caption: "+captionText)

	linksText := "[vision search failed: reverse search is not configured]"
	if l.r.reverse != nil {
		links, err := l.r.reverse.ReverseSearch(ctx, path)
		if err != nil {
			linksText = fmt.Sprintf("[vision search failed: %v]", err)
			l.send(ctx, "⚠️ "+err.Error())
		} else {
			linksText = vision.FormatLinks(links)
			l.send(ctx, "🌐 Vision results:\n"+linksText)
		}
	}
	l.remember(ctx, "vision: "+linksText)

	return "Caption: " + captionText + "\nMatches:\n" + linksText, caption
}

// summarise condenses the round's context. Without results there is nothing
// to summarise and the returned summary is empty.
func (l *loop) summarise(ctx context.Context, snippets string, haveResults bool) string {
	if !haveResults {
		l.send(ctx, skipSummary)
		return ""
	}
	summary, err := l.complete(ctx, prompt.SummaryPrompt(snippets))
	if err != nil {
		l.logger.Warn("summary failed", "round", l.st.Round, "error", err)
		summary = fmt.Sprintf("[summary failed: %s]", provider.FriendlyError(err))
		l.send(ctx, "📝 Summary:\n"+summary)
		return summary
	}
	l.send(ctx, "📝 Summary:\n"+summary)
	l.remember(ctx, "summary: "+summary)
	return summary
}

// advance asks for the next question, falling back to fallback when the
// model gives nothing usable, then persists and moves to the next round.
func (l *loop) advance(ctx context.Context, summary, fallback string) {
	raw, err := l.complete(ctx, prompt.FollowUpPrompt(l.st.RootTopic, summary))
	if err != nil {
		l.logger.Warn("follow-up failed", "round", l.st.Round, "error", err)
	}
	next := ExtractFollowUp(raw, fallback)
	l.send(ctx, "➡️ Next: "+next)
	l.remember(ctx, "follow_up: "+next)
	if l.r.mem != nil {
		l.r.mem.Persist()
	}
	l.st.CurrentQuestion = next
	l.st.Round++
}

// ExtractFollowUp picks the next question out of raw model output. Output
// ending in '?' is used whole; otherwise the last line ending in '?' wins;
// otherwise previous is kept.
func ExtractFollowUp(raw, previous string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasSuffix(trimmed, "?") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasSuffix(line, "?") {
			return line
		}
	}
	return previous
}

// sleep waits d or until ctx is done, reporting whether the full pause elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

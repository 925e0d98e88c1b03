// Package prompt assembles the message lists sent to the model. Every
// builder is a pure function of its inputs.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jeanpaul/danzar/internal/history"
	"github.com/jeanpaul/danzar/internal/provider"
)

// systemText is the persona with the channel's topic anchor. A blank topic
// anchors on the current message instead.
func systemText(personality, rootTopic, userText string) string {
	if strings.TrimSpace(rootTopic) == "" {
		rootTopic = userText
	}
	return fmt.Sprintf("%s\n\nStay on topic: '%s'.", personality, rootTopic)
}

// BuildChatPrompt returns [system, ...history, user].
func BuildChatPrompt(personality, rootTopic string, turns []history.Turn, userText string) []provider.Message {
	msgs := make([]provider.Message, 0, len(turns)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: systemText(personality, rootTopic, userText)})
	msgs = append(msgs, history.Messages(turns)...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: userText})
	return msgs
}

// BuildRAGPrompt is BuildChatPrompt with retrieved memory folded into the
// system message. An empty retrieval list adds nothing.
func BuildRAGPrompt(personality, rootTopic string, retrieved []string, turns []history.Turn, userText string) []provider.Message {
	msgs := BuildChatPrompt(personality, rootTopic, turns, userText)
	if len(retrieved) == 0 {
		return msgs
	}
	var b strings.Builder
	b.WriteString(msgs[0].Content)
	b.WriteString("\n\nRelevant past conversation:\n")
	for _, r := range retrieved {
		b.WriteString("- ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	msgs[0].Content = strings.TrimRight(b.String(), "\n")
	return msgs
}

// WithWebContext inserts search results as an assistant turn just before the
// final user message.
func WithWebContext(msgs []provider.Message, results []string) []provider.Message {
	if len(results) == 0 || len(msgs) == 0 {
		return msgs
	}
	ctxMsg := provider.Message{
		Role:    provider.RoleAssistant,
		Content: "I found these on the web:\n- " + strings.Join(results, "\n- "),
	}
	last := len(msgs) - 1
	out := make([]provider.Message, 0, len(msgs)+1)
	out = append(out, msgs[:last]...)
	out = append(out, ctxMsg, msgs[last])
	return out
}

// ImagePrompt asks the model to respond to a captioned, OCR'd image.
func ImagePrompt(personality, caption, extracted string) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: personality},
		{Role: provider.RoleUser, Content: fmt.Sprintf("Image Caption:\n%s\nOCR Text:\n%s", caption, extracted)},
	}
}

// SummaryPrompt constrains the model to bullet points over fetched context.
func SummaryPrompt(snippets string) []provider.Message {
	return []provider.Message{{
		Role: provider.RoleSystem,
		Content: "You are Danzar, summarizing research. Output bullet points ONLY.\n" +
			fmt.Sprintf("Snippets:\n%s\nSummary:", snippets),
	}}
}

// FollowUpPrompt asks for exactly one question that stays within rootTopic.
func FollowUpPrompt(rootTopic, summary string) []provider.Message {
	return []provider.Message{{
		Role: provider.RoleSystem,
		Content: "You are Danzar. From the summary, output EXACTLY ONE follow-up question ending with '?' only.\n" +
			fmt.Sprintf("Stay within the topic: '%s'.\nSummary:\n%s\nNext question:", rootTopic, summary),
	}}
}

// ThoughtPrompt asks the researcher persona why a question is worth pursuing.
func ThoughtPrompt(personality, question string) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: personality +
			"\n\nYou are the RESEARCHER: before searching, think about why you’re asking this and what you expect to find."},
		{Role: provider.RoleUser, Content: fmt.Sprintf("Why research “%s”? What am I looking for?", question)},
	}
}

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)
	bareURLRe    = regexp.MustCompile(`https?://\S+`)
	thinkInnerRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)
)

// StripForSpeech removes private reasoning blocks and bare URLs.
func StripForSpeech(text string) string {
	text = thinkBlockRe.ReplaceAllString(text, "")
	text = bareURLRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// SplitReasoning separates <think> blocks from the visible answer.
func SplitReasoning(text string) (reasoning, answer string) {
	var parts []string
	for _, m := range thinkInnerRe.FindAllStringSubmatch(text, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n"), strings.TrimSpace(thinkBlockRe.ReplaceAllString(text, ""))
}

package dispatcher

import (
	"regexp"
	"strings"
)

var smallTalkRe = regexp.MustCompile(`(?i)^(hi|hello|hey|how are you)\b`)

var cannedReplies = map[string]string{
	"hi":    "Hey there! How can I help today?",
	"hello": "Hello! What would you like to talk about?",
	"hey":   "Hey! What’s on your mind?",
}

const defaultCanned = "Hi! What can I do for you?"

// smallTalk returns a canned reply for greetings.
func smallTalk(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !smallTalkRe.MatchString(text) {
		return "", false
	}
	first := strings.ToLower(strings.Fields(text)[0])
	if reply, ok := cannedReplies[first]; ok {
		return reply, true
	}
	return defaultCanned, true
}

// webQuery reports whether text asks for a web lookup and returns the text
// with the prefix removed.
func webQuery(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"search:", "!search"} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	return trimmed, false
}

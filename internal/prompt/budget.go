package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jeanpaul/danzar/internal/provider"
)

// perMessageOverhead approximates the role and separator tokens chat
// templates add around each message.
const perMessageOverhead = 4

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates tokens with cl100k_base. When the encoding cannot be
// loaded (it is fetched on first use) it falls back to ~4 chars per token.
func CountTokens(s string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return len(s) / 4
	}
	return len(enc.Encode(s, nil, nil))
}

// countTokens is swapped in tests to keep them offline.
var countTokens = CountTokens

func CountMessages(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += countTokens(m.Content) + perMessageOverhead
	}
	return total
}

// Fit drops the oldest messages between the leading system message and the
// final message until the list fits maxTokens. The first and last messages are
// always kept, so the result may still exceed a tiny budget.
func Fit(msgs []provider.Message, maxTokens int) []provider.Message {
	if maxTokens <= 0 || len(msgs) <= 2 || CountMessages(msgs) <= maxTokens {
		return msgs
	}
	head, middle, tail := msgs[0], msgs[1:len(msgs)-1], msgs[len(msgs)-1]
	total := CountMessages(msgs)
	for len(middle) > 0 && total > maxTokens {
		total -= countTokens(middle[0].Content) + perMessageOverhead
		middle = middle[1:]
	}
	out := make([]provider.Message, 0, len(middle)+2)
	out = append(out, head)
	out = append(out, middle...)
	return append(out, tail)
}

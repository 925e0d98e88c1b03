package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogAcceptsArrayOfStrings(t *testing.T) {
	require.NoError(t, Validate(MemoryLog, []byte(`["user: hi", "assistant: hello"]`)))
	require.NoError(t, Validate(MemoryLog, []byte(`[]`)))
}

func TestMemoryLogRejectsOtherShapes(t *testing.T) {
	for name, doc := range map[string]string{
		"object":    `{"texts": ["a"]}`,
		"numbers":   `["a", 1]`,
		"malformed": `["a",`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(MemoryLog, []byte(doc)))
		})
	}
}

func TestValidatorCachesCompiledSchema(t *testing.T) {
	v := NewValidator()
	schema := map[string]any{
		"type":     "object",
		"required": []string{"text"},
	}
	require.NoError(t, v.Validate(schema, []byte(`{"text": "hi"}`)))

	err := v.Validate(schema, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text")

	count := 0
	v.cache.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count)
}

func TestDumpErrorsTruncates(t *testing.T) {
	out := dumpErrors([]string{"a", "b", "c", "d", "e"})
	assert.Equal(t, "a\n- b\n- c\n... and 2 more", out)
}

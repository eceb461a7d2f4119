package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameLayout(t *testing.T) {
	b, err := Frame(1712345678901, "code_chunk", map[string]string{"content": "x = 1"})
	require.NoError(t, err)
	assert.Equal(t,
		"id: 1712345678901\nevent: code_chunk\ndata: {\"content\":\"x = 1\"}\n\n",
		string(b))
}

func TestFrameDoesNotEscapeHTML(t *testing.T) {
	b, err := Frame(1, "code_chunk", map[string]string{"content": "if a < b && c > d:"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `if a < b && c > d:`)
	assert.NotContains(t, string(b), "\\u003c")
	assert.NotContains(t, string(b), "\\u0026")
}

func TestFrameRejectsUnencodablePayload(t *testing.T) {
	_, err := Frame(1, "error", map[string]any{"fn": func() {}})
	assert.Error(t, err)
}

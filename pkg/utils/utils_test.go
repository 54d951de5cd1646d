package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Empty(t, Truncate("abc", 0))

	// "é" is two bytes; cutting inside it drops the whole rune
	s := strings.Repeat("é", 5)
	got := Truncate(s, 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé", got)
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	md, err := WriteMarkdown(dir, "r.md", "# hi\n")
	require.NoError(t, err)
	data, err := os.ReadFile(md)
	require.NoError(t, err)
	assert.Equal(t, "# hi\n", string(data))

	js, err := WriteJSON(dir, "r.json", map[string]int{"n": 1})
	require.NoError(t, err)
	data, err = os.ReadFile(js)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))
}

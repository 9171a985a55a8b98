package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConcatenatesFiles(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "first.txt", "The cat sat.\n")
	second := writeFile(t, dir, "second.txt", "A dog ran away\n")

	c, err := NewTokenizer().Load(first, second)
	require.NoError(t, err)

	assert.Equal(t, []string{"the", "cat", "sat", "a", "dog", "ran", "away"}, c.Tokens)
	assert.Equal(t, []Source{{Path: first, Tokens: 3}, {Path: second, Tokens: 4}}, c.Sources)
	assert.Equal(t, []string{first, second}, c.SourcePaths())

	tokens, err := NewTokenizer().TokenizeFiles(second, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "dog", "ran", "away", "the", "cat", "sat"}, tokens)
}

func TestLoadErrors(t *testing.T) {
	_, err := NewTokenizer().Load()
	assert.ErrorIs(t, err, ErrNoSources)

	_, err = NewTokenizer().Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTokenizeFileEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.txt", "")

	tokens, err := NewTokenizer().TokenizeFile(path)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

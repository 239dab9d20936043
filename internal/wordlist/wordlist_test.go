package wordlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParse(t *testing.T) {
	words, err := Parse(strings.NewReader("www\n\n# comment\n  MAIL  \napi.\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"www", "mail", "api"}, words)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader("\n  \n# only comments\n"))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestHashTracksContent(t *testing.T) {
	a, err := Hash(writeFile(t, "www\nmail\n"))
	require.NoError(t, err)
	b, err := Hash(writeFile(t, "www\nmail\n"))
	require.NoError(t, err)
	c, err := Hash(writeFile(t, "www\nmail\nftp\n"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 128)
}

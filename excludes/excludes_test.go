package excludes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndMatch(t *testing.T) {
	l, err := Parse(strings.NewReader("# comment\n\n*.tmp\nbuild/*\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Match("out.tmp"))
	assert.True(t, l.Match("build/main"))
	assert.False(t, l.Match("main.go"))
}

func TestDefaultExcludesGitDir(t *testing.T) {
	l := Default()
	assert.True(t, l.Match(".git/HEAD"))
	assert.False(t, l.Match("src/main.go"))
}

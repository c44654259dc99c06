package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexSkipsCommentsAndBlankLines(t *testing.T) {
	lines, err := Lex("# a comment\n\nFROM scratch\n")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, []string{"FROM", "scratch"}, lines[0].Tokens)
	assert.Equal(t, 3, lines[0].Number)
}

func TestLexJoinsRunContinuation(t *testing.T) {
	lines, err := Lex("RUN apt-get update && \\\n    apt-get install -y curl\n")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "RUN", lines[0].Tokens[0])
	assert.Equal(t, "apt-get update &&  apt-get install -y curl", lines[0].Tokens[1])
}

func TestLexKeepsQuotedOptionsAsOneToken(t *testing.T) {
	lines, err := Lex(`PARTITION 1 FORMAT ext4 OPTIONS "-O ^metadata_csum" MOUNT /`)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Tokens, "-O ^metadata_csum")
}

func TestLexRejectsUnterminatedQuote(t *testing.T) {
	_, err := Lex(`PARTITION 1 FORMAT ext4 OPTIONS "unterminated`)
	assert.Error(t, err)
}

func TestLexRejectsDanglingContinuation(t *testing.T) {
	_, err := Lex("RUN echo hi \\")
	assert.Error(t, err)
}

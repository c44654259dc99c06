package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLex(t *testing.T, src string) []Line {
	t.Helper()
	lines, err := Lex(src)
	require.NoError(t, err)
	return lines
}

func TestParseFromRef(t *testing.T) {
	prog, err := Parse(mustLex(t, "FROM debian-12"))
	require.NoError(t, err)
	require.Len(t, prog.Instructions, 1)
	from, ok := prog.Instructions[0].(From)
	require.True(t, ok)
	assert.Equal(t, "debian-12", from.Ref)
}

func TestParseDisk(t *testing.T) {
	prog, err := Parse(mustLex(t, "FROM scratch\nDISK 512Mb GPT"))
	require.NoError(t, err)
	disk, ok := prog.Instructions[1].(Disk)
	require.True(t, ok)
	assert.Equal(t, int64(512*1024*1024), disk.SizeBytes)
	assert.Equal(t, "GPT", disk.Label)
}

func TestParsePartitionAllClauses(t *testing.T) {
	prog, err := Parse(mustLex(t, `PARTITION 1 SIZE 256Mb FORMAT ext4 OPTIONS "-O ^metadata_csum" MOUNT /boot FLAGS boot,efi`))
	require.NoError(t, err)
	p, ok := prog.Instructions[0].(Partition)
	require.True(t, ok)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, int64(256*1024*1024), p.Size.Bytes)
	assert.Equal(t, "ext4", p.Format.FSName)
	assert.Equal(t, "-O ^metadata_csum", p.Format.Options)
	assert.Equal(t, "/boot", p.Mount)
	assert.Equal(t, []string{"boot", "efi"}, p.Flags)
}

func TestParseAddCopyMultiSource(t *testing.T) {
	prog, err := Parse(mustLex(t, "COPY a.txt b.txt /dst/"))
	require.NoError(t, err)
	ac, ok := prog.Instructions[0].(AddCopy)
	require.True(t, ok)
	assert.True(t, ac.Copy)
	assert.Equal(t, []string{"a.txt", "b.txt"}, ac.Sources)
	assert.Equal(t, "/dst/", ac.Dest)
}

func TestParseRejectsUnknownInstruction(t *testing.T) {
	_, err := Parse(mustLex(t, "BOGUS foo"))
	assert.Error(t, err)
}

func TestParseRejectsBadSize(t *testing.T) {
	_, err := Parse(mustLex(t, "DISK 512KB MBR"))
	assert.Error(t, err)
}

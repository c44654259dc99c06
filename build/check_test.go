package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Program {
	t.Helper()
	lines, err := Lex(src)
	require.NoError(t, err)
	prog, err := Parse(lines)
	require.NoError(t, err)
	return prog
}

func TestCheckRequiresFromFirst(t *testing.T) {
	prog := mustParse(t, "RUN echo hi")
	assert.Error(t, Check(prog))
}

func TestCheckRejectsDuplicateFrom(t *testing.T) {
	prog := mustParse(t, "FROM debian-12\nFROM alpine")
	assert.Error(t, Check(prog))
}

func TestCheckRejectsDiskWithoutScratch(t *testing.T) {
	prog := mustParse(t, "FROM debian-12\nDISK 512Mb GPT")
	assert.Error(t, Check(prog))
}

func TestCheckRequiresDiskBeforePartition(t *testing.T) {
	prog := mustParse(t, "FROM scratch\nPARTITION 1 MOUNT /")
	assert.Error(t, Check(prog))
}

func TestCheckRequiresRootMountForScratch(t *testing.T) {
	prog := mustParse(t, "FROM scratch\nDISK 512Mb GPT\nPARTITION 1 MOUNT /boot")
	assert.Error(t, Check(prog))
}

func TestCheckRejectsPartitionAfterReplay(t *testing.T) {
	prog := mustParse(t, "FROM scratch\nDISK 512Mb GPT\nPARTITION 1 MOUNT /\nRUN echo hi\nPARTITION 2 MOUNT /boot")
	assert.Error(t, Check(prog))
}

func TestCheckRejectsUnsupportedFormat(t *testing.T) {
	prog := mustParse(t, "FROM scratch\nDISK 512Mb GPT\nPARTITION 1 FORMAT btrfs MOUNT /")
	assert.Error(t, Check(prog))
}

func TestCheckRejectsUnsupportedFlag(t *testing.T) {
	prog := mustParse(t, "FROM scratch\nDISK 512Mb GPT\nPARTITION 1 MOUNT / FLAGS swap")
	assert.Error(t, Check(prog))
}

func TestCheckAcceptsWellFormedScratchBuild(t *testing.T) {
	prog := mustParse(t, "FROM scratch\nDISK 2Gb GPT\nPARTITION 1 SIZE 256Mb FORMAT ext4 MOUNT /boot FLAGS boot\nPARTITION 2 FORMAT ext4 MOUNT /\nRUN echo hi\nINSPECT")
	assert.NoError(t, Check(prog))
}

func TestCheckAcceptsWellFormedRefBuild(t *testing.T) {
	prog := mustParse(t, "FROM debian-12\nCOPY a.txt /etc/a.txt\nRUN apt-get update")
	assert.NoError(t, Check(prog))
}

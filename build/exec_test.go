package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSfdiskLineMapsFlagsToTypes(t *testing.T) {
	boot := sfdiskLine("GPT", Partition{Flags: []string{"boot"}})
	assert.Contains(t, boot, "type=L")
	assert.Contains(t, boot, "bootable")

	efi := sfdiskLine("GPT", Partition{Flags: []string{"efi"}})
	assert.Contains(t, efi, "type=U")

	efiMBR := sfdiskLine("MBR", Partition{Flags: []string{"efi"}})
	assert.Contains(t, efiMBR, "type=ef")

	grub := sfdiskLine("GPT", Partition{Flags: []string{"bios_grub"}})
	assert.Contains(t, grub, "21686148-6449-6E6F-744E-656564454649")
}

func TestSfdiskLineSizedVsRemaining(t *testing.T) {
	sized := sfdiskLine("GPT", Partition{Size: &Size{Bytes: 256 * 1024 * 1024}})
	assert.Contains(t, sized, "size=256MiB")

	remaining := sfdiskLine("GPT", Partition{})
	assert.Contains(t, remaining, "size=+")
}

func TestFindDiskReturnsFirstDiskInstruction(t *testing.T) {
	prog := mustParse(t, "FROM scratch\nDISK 1Gb MBR\nPARTITION 1 MOUNT /")
	d := findDisk(prog)
	assert.Equal(t, int64(1024*1024*1024), d.SizeBytes)
	assert.Equal(t, "MBR", d.Label)
}

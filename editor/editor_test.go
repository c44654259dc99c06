package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgsDefaultsNetDriver(t *testing.T) {
	args := buildArgs(Options{
		KernelPath: "/boot/vmlinuz",
		InitrdPath: "/boot/initrd",
		DiskPath:   "/vm/disk.qcow2",
	}, "/tmp/sock.qmp")

	joined := assertJoin(args)
	assert.Contains(t, joined, "-kernel /boot/vmlinuz")
	assert.Contains(t, joined, "virtio-net-pci,netdev=net0")
	assert.Contains(t, joined, "unix:/tmp/sock.qmp,server,nowait")
}

func TestBuildArgsHonorsNetDriver(t *testing.T) {
	args := buildArgs(Options{NetDriver: "e1000"}, "/tmp/sock.qmp")
	assert.Contains(t, assertJoin(args), "e1000,netdev=net0")
}

func TestRemotePathJoinsUnderMount(t *testing.T) {
	mv := &MaintenanceVM{}
	assert.Equal(t, "/mnt/etc/fstab", mv.remotePath("/etc/fstab"))
	assert.Equal(t, "/mnt/etc/fstab", mv.remotePath("etc/fstab"))
}

func assertJoin(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testMemory = 512 << 20 // 512M

func TestBuildHypervisorArgsStatelessAddsSnapshot(t *testing.T) {
	args := buildHypervisorArgs("vm1", []string{"/vmstore/vm1-0-base"}, 2, testMemory, true, false, "")
	assert.Contains(t, args, "-snapshot")
	assert.Contains(t, args, "-name")
}

func TestBuildHypervisorArgsSetsCPUAndMemory(t *testing.T) {
	args := buildHypervisorArgs("vm1", []string{"/a"}, 4, testMemory, false, false, "")
	assert.Contains(t, args, "-smp")
	assert.Contains(t, args, "4")
	assert.Contains(t, args, "-m")
	assert.Contains(t, args, "512M")
}

func TestBuildHypervisorArgsOrdersDisksByBootIndex(t *testing.T) {
	args := buildHypervisorArgs("vm1", []string{"/a", "/b"}, 1, testMemory, false, false, "")
	assert.Contains(t, args, "file=/a,if=none,id=disk0,format=qcow2")
	assert.Contains(t, args, "virtio-blk-pci,drive=disk0,bootindex=1")
	assert.Contains(t, args, "file=/b,if=none,id=disk1,format=qcow2")
	assert.Contains(t, args, "virtio-blk-pci,drive=disk1,bootindex=2")
}

func TestBuildHypervisorArgsSkipsNetdevWithoutSSH(t *testing.T) {
	args := buildHypervisorArgs("vm1", []string{"/a"}, 1, testMemory, false, false, "")
	assert.NotContains(t, args, "-netdev")
}

func TestBuildHypervisorArgsAddsNetdevForSSH(t *testing.T) {
	args := buildHypervisorArgs("vm1", []string{"/a"}, 1, testMemory, false, true, "")
	assert.Contains(t, args, "-netdev")
	assert.Contains(t, args, "virtio-net-pci,netdev=net0")
}

func TestBuildHypervisorArgsHonorsNetDriver(t *testing.T) {
	args := buildHypervisorArgs("vm1", []string{"/a"}, 1, testMemory, false, true, "e1000")
	assert.Contains(t, args, "e1000,netdev=net0")
}

func TestSSHCommandTreatsDashAsInteractiveLogin(t *testing.T) {
	assert.Equal(t, "", sshCommand("-"))
	assert.Equal(t, "uname -a", sshCommand("uname -a"))
}

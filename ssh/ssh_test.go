package ssh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigBaseArgsIncludesFixedOptionSet(t *testing.T) {
	cfg := Config{Host: "10.0.2.15", Port: 2222, IdentityFile: "/tmp/id_transient"}
	args := cfg.baseArgs()

	assert.Contains(t, args, "StrictHostKeyChecking=no")
	assert.Contains(t, args, "UserKnownHostsFile=/dev/null")
	assert.Contains(t, args, "BatchMode=yes")
	assert.Contains(t, args, "/tmp/id_transient")
	assert.Contains(t, args, "2222")
}

func TestConfigTargetWithAndWithoutUser(t *testing.T) {
	assert.Equal(t, "10.0.2.15", Config{Host: "10.0.2.15"}.target())
	assert.Equal(t, "root@10.0.2.15", Config{Host: "10.0.2.15", User: "root"}.target())
}

func TestReplacePortFlagUsesCapitalPForSCP(t *testing.T) {
	args := replacePortFlag([]string{"-o", "x=1", "-p", "2222"}, 2222)
	assert.NotContains(t, args, "-p")
	assert.Contains(t, args, "-P")
	assert.Contains(t, args, "2222")
}

func TestFindSSHPortForwardParsesHostfwdLine(t *testing.T) {
	m := hostfwdRe.FindStringSubmatch("Net:\n  hostfwd=tcp:127.0.0.1:2222-:22\n")
	if assert.NotNil(t, m) {
		assert.Equal(t, "2222", m[1])
	}
}

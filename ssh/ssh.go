// Package ssh wraps the system ssh/scp/rsync binaries with the fixed
// option set transient uses to reach a maintenance or guest VM, plus a
// connect-probe loop and the usernet port-forward lookup used to find a
// guest's forwarded SSH port.
package ssh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/transientvm/transient/monitor"
	"github.com/transientvm/transient/utils"
)

const probeRetryInterval = 500 * time.Millisecond

// Config describes how to reach a host over SSH.
type Config struct {
	Host           string
	Port           int
	User           string
	IdentityFile   string
	ConnectTimeout time.Duration
}

// baseArgs builds the fixed option set: no host-key checking, null
// known-hosts, batch mode, low log level, tight connect timeout.
func (c Config) baseArgs() []string {
	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 5 * time.Second //nolint:mnd
	}
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", "LogLevel=ERROR",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(timeout.Seconds())),
	}
	if c.IdentityFile != "" {
		args = append(args, "-i", c.IdentityFile)
	}
	if c.Port != 0 {
		args = append(args, "-p", strconv.Itoa(c.Port))
	}
	return args
}

// BaseArgs returns the fixed ssh option set for cfg, exported for callers
// (e.g. sharedfolder) that need to build their own ssh invocation.
func (c Config) BaseArgs() []string { return c.baseArgs() }

// Target returns the "[user@]host" destination string for cfg.
func (c Config) Target() string { return c.target() }

func (c Config) target() string {
	if c.User != "" {
		return c.User + "@" + c.Host
	}
	return c.Host
}

// Launcher runs ssh/scp/rsync subprocesses against a Config.
type Launcher struct{}

// Probe loops a null-stdin, short-timeout ssh invocation of "true" until it
// exits 0 (server is up) or the overall deadline elapses. Exit code 255
// (connection refused/unreachable) retries at a fixed interval; any other
// non-zero exit is fatal.
func (l Launcher) Probe(ctx context.Context, cfg Config, deadline time.Duration) error {
	return utils.WaitFor(ctx, deadline, probeRetryInterval, func() (bool, error) {
		args := append(cfg.baseArgs(), cfg.target(), "true")
		cmd := exec.CommandContext(ctx, "ssh", args...) //nolint:gosec // fixed binary, operator-configured args
		cmd.Stdin = nil
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 255 { //nolint:mnd
				return false, nil
			}
			return false, fmt.Errorf("ssh probe: %w", err)
		}
		return true, nil
	})
}

// Connect spawns the real ssh session with the given command and stdio.
// An empty command starts an interactive login shell.
func (l Launcher) Connect(ctx context.Context, cfg Config, command string, stdin io.Reader, stdout, stderr io.Writer) error {
	args := cfg.baseArgs()
	args = append(args, cfg.target())
	if command != "" {
		args = append(args, command)
	}
	cmd := exec.CommandContext(ctx, "ssh", args...) //nolint:gosec
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if stdin == os.Stdin && stdout == os.Stdout {
		// Interactive session: let ssh allocate and manage its own pty and
		// raw terminal mode against the inherited controlling terminal.
		args = append([]string{"-tt"}, args...)
		cmd = exec.CommandContext(ctx, "ssh", args...) //nolint:gosec
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh connect: %w", err)
	}
	return nil
}

// SCP copies src to dst. If copyFrom is true, src is remote and dst local;
// otherwise src is local and dst is remote (dst/src are prefixed with
// "user@host:" by the caller as appropriate).
func (l Launcher) SCP(ctx context.Context, cfg Config, src, dst string, copyFrom bool) error {
	args := append([]string{}, cfg.baseArgs()...)
	if cfg.Port != 0 {
		// scp uses -P (capital) for port, unlike ssh's -p.
		args = replacePortFlag(args, cfg.Port)
	}
	args = append(args, src, dst)
	cmd := exec.CommandContext(ctx, "scp", args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("scp %s -> %s: %w: %s", src, dst, err, stderr.String())
	}
	return nil
}

// Rsync synchronizes src to dst over ssh, using the same fixed option set
// as the transport.
func (l Launcher) Rsync(ctx context.Context, cfg Config, src, dst string) error {
	sshCmd := "ssh " + joinArgs(cfg.baseArgs())
	args := []string{"-az", "-e", sshCmd, src, dst}
	cmd := exec.CommandContext(ctx, "rsync", args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rsync %s -> %s: %w: %s", src, dst, err, stderr.String())
	}
	return nil
}

var hostfwdRe = regexp.MustCompile(`hostfwd=tcp:[^:]*:(\d+)-:22\b`)

// FindSSHPortForward sends "info usernet" as a human-monitor-command and
// parses the reply for the host port forwarding to guest port 22.
func FindSSHPortForward(ctx context.Context, client *monitor.Client, timeout time.Duration) (int, error) {
	args := map[string]any{"command-line": "info usernet"}
	raw, err := client.SendSyncReturn(ctx, "human-monitor-command", args, timeout)
	if err != nil {
		return 0, fmt.Errorf("ssh: info usernet: %w", err)
	}
	var human string
	if err := json.Unmarshal(raw, &human); err != nil {
		human = string(raw)
	}
	m := hostfwdRe.FindStringSubmatch(human)
	if m == nil {
		return 0, fmt.Errorf("ssh: no hostfwd to guest port 22 found in usernet info")
	}
	port, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("ssh: parse forwarded port: %w", err)
	}
	return port, nil
}

func replacePortFlag(args []string, port int) []string {
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		if args[i] == "-p" {
			i++ // skip the port value that followed -p
			continue
		}
		out = append(out, args[i])
	}
	return append(out, "-P", strconv.Itoa(port))
}

func joinArgs(args []string) string {
	var buf bytes.Buffer
	for i, a := range args {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(a)
	}
	return buf.String()
}

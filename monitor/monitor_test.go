package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer accepts a single connection, sends a greeting line, answers
// qmp_capabilities, and lets the test drive further exchanges via rw.
func fakeServer(t *testing.T, sock string) (accepted chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck

	accepted = make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte(`{"QMP":{"version":{}}}` + "\n")) //nolint:errcheck

		scanner := bufio.NewScanner(conn)
		if scanner.Scan() {
			var req struct {
				Execute string `json:"execute"`
				ID      int64  `json:"id"`
			}
			json.Unmarshal(scanner.Bytes(), &req) //nolint:errcheck
			reply, _ := json.Marshal(Reply{ID: req.ID, Return: json.RawMessage(`{}`)})
			conn.Write(append(reply, '\n')) //nolint:errcheck
		}
		accepted <- conn
	}()
	return accepted
}

func TestDialNegotiatesCapabilities(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "mon.sock")
	fakeServer(t, sock)

	ctx := context.Background()
	c, err := Dial(ctx, sock, 2*time.Second)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck
}

func TestSendSyncReturnsReply(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "mon2.sock")
	accepted := fakeServer(t, sock)

	ctx := context.Background()
	c, err := Dial(ctx, sock, 2*time.Second)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	conn := <-accepted
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req struct {
				Execute string `json:"execute"`
				ID      int64  `json:"id"`
			}
			json.Unmarshal(scanner.Bytes(), &req) //nolint:errcheck
			reply, _ := json.Marshal(Reply{ID: req.ID, Return: json.RawMessage(`{"ok":true}`)})
			conn.Write(append(reply, '\n')) //nolint:errcheck
		}
	}()

	out, err := c.SendSyncReturn(ctx, "query-status", nil, 2*time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(out))
}

func TestEventDispatch(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "mon3.sock")
	accepted := fakeServer(t, sock)

	ctx := context.Background()
	c, err := Dial(ctx, sock, 2*time.Second)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	conn := <-accepted
	received := make(chan *Event, 1)
	c.OnEvent("SHUTDOWN", func(e *Event) { received <- e })

	ev, _ := json.Marshal(Event{Event: "SHUTDOWN"})
	_, err = conn.Write(append(ev, '\n'))
	require.NoError(t, err)

	select {
	case e := <-received:
		require.Equal(t, "SHUTDOWN", e.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

// Package monitor implements a line-delimited-JSON client for the
// hypervisor's QMP-style monitor socket: commands carry a numeric id and
// are answered by a reply carrying the same id; the server may also push
// named events at any time. See Client.
package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transientvm/transient/utils"
)

const (
	connectRetryInterval = 200 * time.Millisecond
	capabilitiesCommand  = "qmp_capabilities"
)

// Message is a raw outbound command. Arguments is marshaled as the
// "arguments" field; Execute is marshaled as "execute".
type Message struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
	ID        int64  `json:"id,omitempty"`
}

// Reply is an inbound response keyed by numeric id.
type Reply struct {
	ID     int64           `json:"id"`
	Return json.RawMessage `json:"return,omitempty"`
	Error  *ReplyError     `json:"error,omitempty"`
}

// ReplyError is the monitor's structured error payload.
type ReplyError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *ReplyError) Error() string { return fmt.Sprintf("%s: %s", e.Class, e.Desc) }

// Event is an inbound, unsolicited message keyed by event name.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is a connected monitor session. One background goroutine reads
// line-delimited JSON messages and dispatches them to registered
// callbacks; the id table entry is cleared once its reply has been
// delivered, while event callbacks persist across calls.
type Client struct {
	conn   net.Conn
	reader *bufio.Scanner

	mu         sync.Mutex
	nextID     int64
	replyCbs   map[int64]func(*Reply)
	eventCbs   map[string][]func(*Event)
	closed     atomic.Bool
	readerDone chan struct{}
}

// Dial connects to the monitor's Unix-domain socket at path, retrying with
// a fixed backoff until connectTimeout elapses, reads and discards the
// server's greeting line, then negotiates capabilities.
func Dial(ctx context.Context, path string, connectTimeout time.Duration) (*Client, error) {
	var conn net.Conn
	err := utils.WaitFor(ctx, connectTimeout, connectRetryInterval, func() (bool, error) {
		c, dialErr := (&net.Dialer{}).DialContext(ctx, "unix", path)
		if dialErr != nil {
			return false, nil //nolint:nilerr // retry on connection-refused/not-yet-listening
		}
		conn = c
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: connect %s: %w", path, err)
	}

	c := &Client{
		conn:       conn,
		reader:     bufio.NewScanner(conn),
		replyCbs:   make(map[int64]func(*Reply)),
		eventCbs:   make(map[string][]func(*Event)),
		readerDone: make(chan struct{}),
	}
	c.reader.Buffer(make([]byte, 0, 64*1024), 1024*1024) //nolint:mnd

	// Discard the greeting line.
	if !c.reader.Scan() {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("monitor: read greeting: %w", c.reader.Err())
	}

	go c.readLoop()

	if err := c.SendSync(ctx, capabilitiesCommand, nil, connectTimeout); err != nil {
		c.Close() //nolint:errcheck
		return nil, fmt.Errorf("monitor: negotiate capabilities: %w", err)
	}
	return c, nil
}

// readLoop is the single reader goroutine: every line is parsed once and
// routed either as a reply (numeric "id") or an event (string "event").
// Replies clear their id table entry after dispatch; events may fire
// multiple registered callbacks and are never cleared.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for c.reader.Scan() {
		line := c.reader.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe struct {
			ID    *int64 `json:"id"`
			Event string `json:"event"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		switch {
		case probe.ID != nil:
			var reply Reply
			if err := json.Unmarshal(line, &reply); err != nil {
				continue
			}
			c.dispatchReply(&reply)
		case probe.Event != "":
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				continue
			}
			c.dispatchEvent(&ev)
		}
	}
	c.closed.Store(true)
}

func (c *Client) dispatchReply(r *Reply) {
	c.mu.Lock()
	cb, ok := c.replyCbs[r.ID]
	if ok {
		delete(c.replyCbs, r.ID)
	}
	c.mu.Unlock()
	if ok && cb != nil {
		cb(r)
	}
}

func (c *Client) dispatchEvent(e *Event) {
	c.mu.Lock()
	cbs := append([]func(*Event){}, c.eventCbs[e.Event]...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(e)
	}
}

// OnEvent registers cb to fire for every future occurrence of event.
func (c *Client) OnEvent(event string, cb func(*Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventCbs[event] = append(c.eventCbs[event], cb)
}

// SendAsync allocates a new id, registers cb against it, and writes the
// command line. cb fires exactly once, from the reader goroutine, when
// the matching reply arrives.
func (c *Client) SendAsync(execute string, args any, cb func(*Reply)) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.replyCbs[id] = cb
	c.mu.Unlock()

	msg := Message{Execute: execute, Arguments: args, ID: id}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("monitor: encode %s: %w", execute, err)
	}
	raw = append(raw, '\r', '\n')
	if _, err := c.conn.Write(raw); err != nil {
		c.mu.Lock()
		delete(c.replyCbs, id)
		c.mu.Unlock()
		return fmt.Errorf("monitor: write %s: %w", execute, err)
	}
	return nil
}

// SendSync sends execute and blocks until its reply arrives or timeout
// elapses. Returns the reply's structured error, if any; the "return"
// payload is discarded (SendSyncReturn yields it).
func (c *Client) SendSync(ctx context.Context, execute string, args any, timeout time.Duration) error {
	_, err := c.SendSyncReturn(ctx, execute, args, timeout)
	return err
}

// SendSyncReturn is SendSync but also returns the raw "return" payload for
// callers that need the command's result (e.g. "query-status").
func (c *Client) SendSyncReturn(ctx context.Context, execute string, args any, timeout time.Duration) (json.RawMessage, error) {
	done := make(chan *Reply, 1)
	if err := c.SendAsync(execute, args, func(r *Reply) { done <- r }); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.Error != nil {
			return nil, fmt.Errorf("monitor: %s: %w", execute, r.Error)
		}
		return r.Return, nil
	case <-timer.C:
		return nil, fmt.Errorf("monitor: %s: timed out after %s", execute, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("monitor: %s: %w", execute, ctx.Err())
	}
}

// Closed reports whether the reader goroutine has observed EOF or the
// connection has been explicitly closed.
func (c *Client) Closed() bool { return c.closed.Load() }

// Close closes the underlying connection and waits for the reader
// goroutine to exit; no more callbacks fire after Close returns.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.readerDone
	return err
}

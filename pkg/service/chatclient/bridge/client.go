// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bridge implements chatclient.Client on top of a sidecar process
// that drives the chat network's web client. The sidecar speaks newline
// delimited JSON: requests on stdin, responses and events on stdout.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/safejson"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// ErrClosed is returned for requests on a client whose sidecar has exited.
var ErrClosed = errors.New("bridge closed")

// ErrNotStarted is returned for requests before Initialize launched the sidecar.
var ErrNotStarted = errors.New("bridge not started")

const (
	eventBuffer = 64
	// maxLineSize bounds one stdout line. Chat lists of big accounts are large.
	maxLineSize = 8 * 1024 * 1024
)

// conn is a running sidecar. wait must only be called once stdout and
// stderr were read to the end.
type conn struct {
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	pid    int
	wait   func() error
	// kill stops the process without asking it first.
	kill func() error
}

// launcher starts the sidecar for a tenant.
type launcher func(ctx context.Context, tenant string) (*conn, error)

// Client is a chatclient.Client backed by one sidecar process.
type Client struct {
	tenant string
	launch launcher
	logger *zap.SugaredLogger

	events chan chatclient.Event

	mu      sync.Mutex
	conn    *conn
	pending map[string]chan frame

	writeMu sync.Mutex

	// stopping is closed by Destroy, after that events are dropped instead of queued.
	stopping     chan struct{}
	stoppingOnce sync.Once

	// done is closed when stdout reached EOF, exited when the process was reaped.
	done     chan struct{}
	exited   chan struct{}
	launched atomic.Bool
}

var _ chatclient.Client = (*Client)(nil)

func newClient(tenant string, launch launcher, log *zap.SugaredLogger) *Client {
	return &Client{
		tenant:   tenant,
		launch:   launch,
		logger:   log.With("tenant", tenant),
		events:   make(chan chatclient.Event, eventBuffer),
		pending:  make(map[string]chan frame),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Initialize launches the sidecar and asks it to start the web client.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.launched.CompareAndSwap(false, true) {
		return errors.New("bridge already initialized")
	}

	cn, err := c.launch(ctx, c.tenant)
	if err != nil {
		close(c.done)
		close(c.exited)
		close(c.events)

		return fmt.Errorf("launch sidecar: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.stopping:
		c.mu.Unlock()
		c.abort(cn)

		return fmt.Errorf("sidecar (pid %d) destroyed while launching: %w", cn.pid, ErrClosed)
	default:
	}
	c.conn = cn
	c.mu.Unlock()

	go c.run(cn)

	return c.call(ctx, opInitialize, nil, nil)
}

// abort kills a sidecar that was launched after Destroy and reaps it.
func (c *Client) abort(cn *conn) {
	_ = cn.stdin.Close()

	if err := cn.kill(); err != nil {
		c.logger.Warnf("Killing sidecar %d failed: %v", cn.pid, err)
	}

	if err := cn.wait(); err != nil {
		c.logger.Debugf("Sidecar %d exited: %v", cn.pid, err)
	}

	close(c.done)
	close(c.exited)
	close(c.events)
}

func (c *Client) run(cn *conn) {
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		c.logStderr(cn.stderr)
	}()

	c.readLoop(cn.stdout)
	wg.Wait()

	if err := cn.wait(); err != nil {
		c.logger.Infof("Sidecar (pid %d) exited: %v", cn.pid, err)
	} else {
		c.logger.Debugf("Sidecar (pid %d) exited", cn.pid)
	}

	close(c.exited)
}

func (c *Client) readLoop(r io.Reader) {
	defer c.closeDown()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := safejson.Unmarshal(line, &f); err != nil {
			c.logger.Warnf("Dropping malformed sidecar line: %v", err)

			continue
		}

		if f.Event != "" {
			c.dispatch(f)

			continue
		}

		c.resolve(f)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			c.logger.Debugf("Sidecar output closed: %v", err)

			return
		}

		metrics.IncErrorCount(metrics.ComponentBridge, c.tenant)
		sentry.ReportServiceError(c.logger, c.tenant, "bridge", "read", fmt.Errorf("read sidecar output: %w", err))
	}
}

func (c *Client) dispatch(f frame) {
	ev, ok, err := toEvent(f)
	if err != nil {
		c.logger.Warnf("Dropping sidecar event: %v", err)

		return
	}

	if !ok {
		c.logger.Debugf("Ignoring sidecar event %q", f.Event)

		return
	}

	select {
	case c.events <- ev:
	case <-c.stopping:
	}
}

func (c *Client) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debugf("Response for unknown request %s", f.ID)

		return
	}

	ch <- f
}

// closeDown runs once stdout is gone: pending requests fail and the event
// channel is closed.
func (c *Client) closeDown() {
	close(c.done)

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan frame)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	close(c.events)
}

func (c *Client) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.logger.Debugf("sidecar: %s", line)
		}
	}
}

// call sends op and decodes the result into out, which may be nil.
func (c *Client) call(ctx context.Context, op string, args any, out any) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn == nil {
		return ErrNotStarted
	}

	id := uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()

		return ErrClosed
	default:
	}

	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(cn, request{ID: id, Op: op, Args: args}); err != nil {
		c.forget(id)

		return err
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return ErrClosed
		}

		if f.Error != "" {
			return &RemoteError{Op: op, Message: f.Error}
		}

		if out != nil && len(f.Result) > 0 {
			if err := safejson.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}

		return nil
	case <-ctx.Done():
		c.forget(id)

		return ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(cn *conn, req request) error {
	line, err := safejson.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", req.Op, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := cn.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", req.Op, err)
	}

	return nil
}

func (c *Client) Events() <-chan chatclient.Event {
	return c.events
}

func (c *Client) GetConnectivityState(ctx context.Context) (chatclient.ConnectivityState, error) {
	var state string
	if err := c.call(ctx, opGetState, nil, &state); err != nil {
		return "", err
	}

	return chatclient.ConnectivityState(state).Normalize(), nil
}

func (c *Client) GetSelfInfo(ctx context.Context) (chatclient.SelfInfo, error) {
	var info chatclient.SelfInfo
	if err := c.call(ctx, opGetSelfInfo, nil, &info); err != nil {
		return chatclient.SelfInfo{}, err
	}

	if info.ID == "" {
		return chatclient.SelfInfo{}, &RemoteError{Op: opGetSelfInfo, Message: "no account info yet"}
	}

	return info, nil
}

func (c *Client) ListChats(ctx context.Context) ([]chatclient.Chat, error) {
	var chats []chatclient.Chat
	if err := c.call(ctx, opGetChats, nil, &chats); err != nil {
		return nil, err
	}

	return chats, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID string, body string) (chatclient.SentMessage, error) {
	var d sentData
	if err := c.call(ctx, opSendMessage, sendArgs{ChatID: chatID, Body: body}, &d); err != nil {
		return chatclient.SentMessage{}, err
	}

	return chatclient.SentMessage{ID: d.ID, ChatID: d.ChatID, Timestamp: unixTime(d.Timestamp)}, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, opLogout, nil, nil)
}

// Destroy asks the sidecar to shut down and waits until the process exited.
// Events still queued are dropped.
func (c *Client) Destroy(ctx context.Context) error {
	c.stoppingOnce.Do(func() { close(c.stopping) })

	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn == nil {
		if !c.launched.Load() {
			return nil
		}

		// a launch is in flight, Initialize reaps what it started
		select {
		case <-c.exited:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("sidecar launch did not finish: %w", ctx.Err())
		}
	}

	if err := c.call(ctx, opDestroy, nil, nil); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Debugf("Sidecar destroy request failed: %v", err)
	}

	c.writeMu.Lock()
	_ = cn.stdin.Close()
	c.writeMu.Unlock()

	select {
	case <-c.exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sidecar (pid %d) did not exit: %w", cn.pid, ctx.Err())
	}
}

func (c *Client) ProcessID() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0
	}

	return c.conn.pid
}

// IsClosed is true once the sidecar's output ended.
func (c *Client) IsClosed() bool {
	if !c.launched.Load() {
		return false
	}

	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

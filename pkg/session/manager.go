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

package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/chatgate/pkg/backoff"
	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/process"
)

// MessageHandler receives messages that arrive on ready sessions.
type MessageHandler func(ctx context.Context, tenant string, msg chatclient.IncomingMessage)

// Manager owns every session and drives their lifecycle.
type Manager struct {
	cfg        Config
	store      *Store
	factory    chatclient.Factory
	terminator process.Terminator
	fs         filesystem.Service
	classifier *backoff.DisconnectClassifier
	onMessage  MessageHandler
	now        func() time.Time

	logger        *zap.SugaredLogger
	monitorLogger *zap.SugaredLogger

	ctx    context.Context //nolint:containedctx // lifetime of background work
	cancel context.CancelFunc
	wg     sync.WaitGroup

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now for every timestamp the manager records.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTerminator(t process.Terminator) Option {
	return func(m *Manager) { m.terminator = t }
}

func WithFilesystem(fs filesystem.Service) Option {
	return func(m *Manager) { m.fs = fs }
}

func WithMessageHandler(h MessageHandler) Option {
	return func(m *Manager) { m.onMessage = h }
}

// NewManager validates cfg and creates a manager. Call Start to run the monitor.
func NewManager(factory chatclient.Factory, cfg Config, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("client factory is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:           cfg,
		factory:       factory,
		store:         NewStore(),
		classifier:    backoff.NewDisconnectClassifier(cfg.Reconnect.PermanentReasons),
		now:           time.Now,
		logger:        logger.For(logger.ComponentSessionManager),
		monitorLogger: logger.For(logger.ComponentSessionMonitor),
		ctx:           ctx,
		cancel:        cancel,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.terminator == nil {
		m.terminator = process.NewDefaultTerminator(constants.ProcessTerminateGrace)
	}

	if m.fs == nil {
		m.fs = filesystem.NewDefaultService()
	}

	metrics.InitErrorCounter(metrics.ComponentSessionManager, "manager")

	return m, nil
}

// Store exposes the session store.
func (m *Manager) Store() *Store {
	return m.store
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Start launches the zombie session monitor if it is enabled.
func (m *Manager) Start() {
	if !m.cfg.Monitor.Enabled {
		m.logger.Info("Session monitor disabled")

		return
	}

	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitorCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.monitorCancel = cancel
	m.monitorDone = make(chan struct{})

	go m.monitorLoop(ctx, m.monitorDone)
}

// Stop halts the monitor. Sessions keep running.
func (m *Manager) Stop() {
	m.monitorMu.Lock()
	cancel, done := m.monitorCancel, m.monitorDone
	m.monitorCancel, m.monitorDone = nil, nil
	m.monitorMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Shutdown stops the monitor and destroys every session in parallel. The
// credentials stay on disk so sessions resume after a restart.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop()

	sessions := m.store.List()
	m.logger.Infof("Shutting down %d sessions", len(sessions))

	g, gctx := errgroup.WithContext(ctx)

	for _, s := range sessions {
		g.Go(func() error {
			_, err := m.destroy(gctx, s, destroyOptions{Reason: "shutdown"})

			return err
		})
	}

	err := g.Wait()

	m.cancel()

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("background work still running: %w", ctx.Err()))
	}

	return err
}

// goBackground runs fn on a tracked goroutine.
func (m *Manager) goBackground(fn func()) {
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Manager) sessionDir(tenant string) string {
	return filepath.Join(m.cfg.AuthDir, "session-"+tenant)
}

func (m *Manager) newSession(tenant string) *Session {
	s := newSession(tenant, m.now)
	s.attachMachine(logger.For(logger.ComponentBaseFSM))

	return s
}

// current reports whether s is still the live session of its tenant and
// still runs the client of generation gen. Token held.
func (m *Manager) current(s *Session, gen uint64) bool {
	return m.store.Get(s.tenant) == s && !s.destroying && s.generation == gen
}

// attach installs a fresh client and starts its event pump. Token held.
func (m *Manager) attach(s *Session, client chatclient.Client) uint64 {
	s.generation++
	s.client = client
	s.stopPump = make(chan struct{})

	gen := s.generation
	pid := client.ProcessID()
	s.update(func(i *Info) {
		i.Generation = gen
		i.ProcessID = pid
	})

	stop := s.stopPump
	m.goBackground(func() { m.pump(s, client, gen, stop) })

	return gen
}

// detach takes the client away from s so nothing else uses it. Token held.
func (m *Manager) detach(s *Session) chatclient.Client {
	client := s.client
	s.client = nil
	s.generation++

	if s.stopPump != nil {
		close(s.stopPump)
		s.stopPump = nil
	}

	gen := s.generation
	s.update(func(i *Info) {
		i.Generation = gen
		i.ProcessID = 0
	})

	return client
}

// initialize starts client in the background. A failure is fed back as a
// disconnect of that client generation.
func (m *Manager) initialize(s *Session, client chatclient.Client, gen uint64) {
	m.goBackground(func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.InitializeTimeout)
		defer cancel()

		if err := client.Initialize(ctx); err != nil {
			if m.ctx.Err() != nil {
				return
			}

			m.logger.Warnf("Client of %s failed to initialize: %v", s.tenant, err)
			m.handleEvent(s, gen, chatclient.Disconnected("initialize failed: "+err.Error()))

			return
		}

		// the pid is known only after launch
		m.refreshProcessID(s, client, gen)
	})
}

func (m *Manager) refreshProcessID(s *Session, client chatclient.Client, gen uint64) {
	unlock, err := m.store.Lock(m.ctx, s.tenant)
	if err != nil {
		return
	}
	defer unlock()

	if !m.current(s, gen) {
		return
	}

	pid := client.ProcessID()
	s.update(func(i *Info) { i.ProcessID = pid })
}

// connect creates the client of a new session and starts it. Token held.
func (m *Manager) connect(s *Session) error {
	if err := s.fire(EventConnect); err != nil {
		return err
	}

	client, err := m.factory(s.tenant)
	if err != nil {
		return fmt.Errorf("create client for %s: %w", s.tenant, err)
	}

	gen := m.attach(s, client)
	m.initialize(s, client, gen)

	m.logger.Infof("Session %s connecting", s.tenant)

	return nil
}

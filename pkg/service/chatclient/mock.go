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

package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrMockNoSelfInfo is returned by MockClient.GetSelfInfo while no self info is configured.
var ErrMockNoSelfInfo = errors.New("self info not available")

// MockClient is a scriptable Client for tests. Zero-value funcs fall back to
// sensible defaults: Initialize emits InitEvents, the connectivity state is
// State, Destroy closes the event channel.
type MockClient struct {
	Tenant string
	PID    int

	InitializeFunc           func(ctx context.Context) error
	GetConnectivityStateFunc func(ctx context.Context) (ConnectivityState, error)
	GetSelfInfoFunc          func(ctx context.Context) (SelfInfo, error)
	ListChatsFunc            func(ctx context.Context) ([]Chat, error)
	SendMessageFunc          func(ctx context.Context, chatID, body string) (SentMessage, error)
	LogoutFunc               func(ctx context.Context) error
	DestroyFunc              func(ctx context.Context) error

	// InitEvents are emitted, in order, by the default Initialize.
	InitEvents []Event

	events chan Event

	mu        sync.Mutex
	state     ConnectivityState
	selfInfo  *SelfInfo
	closed    bool
	evClosed  bool
	destroyed bool

	InitializeCalls atomic.Int32
	StateCalls      atomic.Int32
	SelfInfoCalls   atomic.Int32
	SendCalls       atomic.Int32
	LogoutCalls     atomic.Int32
	DestroyCalls    atomic.Int32
}

// NewMockClient creates a connected mock with a buffered event channel.
func NewMockClient(tenant string) *MockClient {
	return &MockClient{
		Tenant: tenant,
		events: make(chan Event, 64),
		state:  StateConnected,
	}
}

// Emit delivers an event unless the client is already shut down.
func (m *MockClient) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.evClosed {
		return
	}

	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.events <- ev
}

// SetState changes the connectivity state returned by the default probe.
func (m *MockClient) SetState(state ConnectivityState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = state
}

// SetSelfInfo makes the default self-info probe succeed.
func (m *MockClient) SetSelfInfo(info SelfInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selfInfo = &info
}

// SetClosed simulates the browser page or process dying without an event.
func (m *MockClient) SetClosed(closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = closed
}

// Destroyed reports whether Destroy completed.
func (m *MockClient) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.destroyed
}

func (m *MockClient) closeEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.evClosed {
		m.evClosed = true
		close(m.events)
	}
}

func (m *MockClient) Initialize(ctx context.Context) error {
	m.InitializeCalls.Add(1)

	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx)
	}

	for _, ev := range m.InitEvents {
		m.Emit(ev)
	}

	return nil
}

func (m *MockClient) Events() <-chan Event {
	return m.events
}

func (m *MockClient) GetConnectivityState(ctx context.Context) (ConnectivityState, error) {
	m.StateCalls.Add(1)

	if m.GetConnectivityStateFunc != nil {
		return m.GetConnectivityStateFunc(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state, nil
}

func (m *MockClient) GetSelfInfo(ctx context.Context) (SelfInfo, error) {
	m.SelfInfoCalls.Add(1)

	if m.GetSelfInfoFunc != nil {
		return m.GetSelfInfoFunc(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.selfInfo == nil {
		return SelfInfo{}, ErrMockNoSelfInfo
	}

	return *m.selfInfo, nil
}

func (m *MockClient) ListChats(ctx context.Context) ([]Chat, error) {
	if m.ListChatsFunc != nil {
		return m.ListChatsFunc(ctx)
	}

	return []Chat{}, nil
}

func (m *MockClient) SendMessage(ctx context.Context, chatID, body string) (SentMessage, error) {
	n := m.SendCalls.Add(1)

	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, chatID, body)
	}

	return SentMessage{ID: fmt.Sprintf("mock-%d", n), ChatID: chatID, Timestamp: time.Now()}, nil
}

func (m *MockClient) Logout(ctx context.Context) error {
	m.LogoutCalls.Add(1)

	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx)
	}

	return nil
}

func (m *MockClient) Destroy(ctx context.Context) error {
	m.DestroyCalls.Add(1)

	if m.DestroyFunc != nil {
		if err := m.DestroyFunc(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.destroyed = true
	m.closed = true
	m.mu.Unlock()

	m.closeEvents()

	return nil
}

func (m *MockClient) ProcessID() int {
	return m.PID
}

func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// BlockUntilDone simulates a hung client call: it only returns when ctx is done.
func BlockUntilDone(ctx context.Context) error {
	<-ctx.Done()

	return ctx.Err()
}

// MockFactory hands out MockClients and keeps every client it created.
type MockFactory struct {
	// Configure is called for every new client before it is returned.
	Configure func(tenant string, c *MockClient)
	// Err makes the factory fail.
	Err error

	mu      sync.Mutex
	clients map[string][]*MockClient
}

func NewMockFactory(configure func(tenant string, c *MockClient)) *MockFactory {
	return &MockFactory{Configure: configure, clients: make(map[string][]*MockClient)}
}

// New implements Factory.
func (f *MockFactory) New(tenant string) (Client, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	c := NewMockClient(tenant)
	if f.Configure != nil {
		f.Configure(tenant, c)
	}

	f.mu.Lock()
	f.clients[tenant] = append(f.clients[tenant], c)
	f.mu.Unlock()

	return c, nil
}

// Clients returns every client created for tenant, oldest first.
func (f *MockFactory) Clients(tenant string) []*MockClient {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*MockClient(nil), f.clients[tenant]...)
}

// Latest returns the newest client of tenant or nil.
func (f *MockFactory) Latest(tenant string) *MockClient {
	clients := f.Clients(tenant)
	if len(clients) == 0 {
		return nil
	}

	return clients[len(clients)-1]
}

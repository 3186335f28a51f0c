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
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/chatgate/internal/fsm"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// Session is the lifecycle record of one tenant's connection.
//
// Every mutation happens while the tenant token of the Store is held. The
// internal mutex additionally guards Info and the change channel so that
// snapshots and status waiters can read without the token.
type Session struct {
	tenant  string
	machine *fsm.BaseMachine
	now     func() time.Time

	mu      sync.RWMutex
	info    Info
	changed chan struct{}

	// Fields below are only touched with the tenant token held.
	client     chatclient.Client
	generation uint64
	stopPump   chan struct{}

	reconnectTimer *time.Timer
	graceTimer     *time.Timer
	confirmTimer   *time.Timer
	destroying     bool

	// done is closed once the session left the Store.
	done     chan struct{}
	doneOnce sync.Once

	// ops counts client calls made by senders outside the token.
	ops sync.WaitGroup
}

func newSession(tenant string, now func() time.Time) *Session {
	s := &Session{
		tenant:  tenant,
		now:     now,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}

	created := now()
	s.info = Info{
		TenantID:          tenant,
		State:             StateUninitialized,
		CreatedAt:         created,
		LastStateChangeAt: created,
	}

	return s
}

// Tenant returns the tenant the session belongs to.
func (s *Session) Tenant() string {
	return s.tenant
}

// State returns the current connection state.
func (s *Session) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.info.State
}

// Snapshot returns a deep copy of the observable session data.
func (s *Session) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out Info
	if err := deepcopy.Copy(&out, &s.info); err != nil {
		// Info holds only values, a plain copy is equivalent
		out = s.info
	}

	return out
}

// Done is closed once the session has been removed from the Store.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) update(fn func(i *Info)) {
	s.mu.Lock()
	fn(&s.info)
	s.mu.Unlock()
}

// notify wakes everyone waiting for a change.
func (s *Session) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Session) changes() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.changed
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// stopTimers cancels every pending timer. Token held.
func (s *Session) stopTimers() {
	stopTimer(&s.reconnectTimer)
	stopTimer(&s.graceTimer)
	stopTimer(&s.confirmTimer)

	s.update(func(i *Info) { i.ReconnectPending = false })
}

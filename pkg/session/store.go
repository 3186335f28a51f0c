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
	"sort"
	"sync"

	"github.com/united-manufacturing-hub/chatgate/pkg/ctxutil/ctxmutex"
)

// Store maps tenants to sessions and hands out the per-tenant token that
// serializes every state change of a tenant. Tokens outlive sessions so a
// new session of a tenant cannot race the removal of the previous one.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	tokens   map[string]*ctxmutex.CtxMutex
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		tokens:   make(map[string]*ctxmutex.CtxMutex),
	}
}

func (st *Store) token(tenant string) *ctxmutex.CtxMutex {
	st.mu.Lock()
	defer st.mu.Unlock()

	t, ok := st.tokens[tenant]
	if !ok {
		t = ctxmutex.NewCtxMutex()
		st.tokens[tenant] = t
	}

	return t
}

// Lock acquires the tenant token. The returned func releases it.
func (st *Store) Lock(ctx context.Context, tenant string) (func(), error) {
	t := st.token(tenant)
	if err := t.Lock(ctx); err != nil {
		return nil, err
	}

	return t.Unlock, nil
}

// TryLock acquires the tenant token only if it is free.
func (st *Store) TryLock(tenant string) (func(), bool) {
	t := st.token(tenant)
	if !t.TryLock() {
		return nil, false
	}

	return t.Unlock, true
}

// Get returns the session of tenant or nil.
func (st *Store) Get(tenant string) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.sessions[tenant]
}

// GetOrCreate returns the existing session or stores the one built by create.
// The caller must hold the tenant token.
func (st *Store) GetOrCreate(tenant string, create func() *Session) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[tenant]; ok {
		return s, false
	}

	s := create()
	st.sessions[tenant] = s

	return s, true
}

// List returns every session ordered by tenant.
func (st *Store) List() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].tenant < out[j].tenant })

	return out
}

// Tenants returns the tenants that currently have a session, sorted.
func (st *Store) Tenants() []string {
	st.mu.RLock()
	out := make([]string, 0, len(st.sessions))
	for t := range st.sessions {
		out = append(out, t)
	}
	st.mu.RUnlock()

	sort.Strings(out)

	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return len(st.sessions)
}

// remove deletes tenant only while it still maps to s.
func (st *Store) remove(tenant string, s *Session) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.sessions[tenant] != s {
		return false
	}

	delete(st.sessions, tenant)

	return true
}

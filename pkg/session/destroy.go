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
	"strings"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/ctxutil"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// Teardown paths, in escalation order.
const (
	TeardownNone     = "none"
	TeardownGraceful = "graceful"
	TeardownForce    = "force"
	TeardownTag      = "tag"
)

type destroyOptions struct {
	Reason string
	// Logout unpairs the device before the client is shut down.
	Logout bool
	// Purge removes the credential directories of the tenant.
	Purge bool
}

// destroyOutcome describes what a destroy actually did.
type destroyOutcome struct {
	// Performed is false when another caller destroyed the session.
	Performed    bool
	LoggedOut    bool
	TeardownPath string
	RemovedPaths []string
}

// ClearResult is returned by ClearSession.
type ClearResult struct {
	Tenant       string   `json:"tenant"`
	HadSession   bool     `json:"hadSession"`
	LoggedOut    bool     `json:"loggedOut"`
	TeardownPath string   `json:"teardownPath"`
	RemovedPaths []string `json:"removedPaths"`
}

// teardown is the work left after beginDestroy released the token.
type teardown struct {
	s      *Session
	client chatclient.Client
	pid    int
	state  string
}

// beginDestroy marks s as destroying and takes its client away. Token held.
func (m *Manager) beginDestroy(s *Session, reason string) teardown {
	state := s.machine.GetCurrentFSMState()

	s.stopTimers()
	s.destroying = true
	s.update(func(i *Info) { i.Destroying = true })

	if err := s.fire(EventDestroy, reason); err != nil {
		m.logger.Debugf("Destroy event for %s: %v", s.tenant, err)
	}

	pid := s.info.ProcessID
	client := m.detach(s)

	m.logger.Infof("Destroying session %s (state %s): %s", s.tenant, state, reason)

	return teardown{s: s, client: client, pid: pid, state: state}
}

// destroy runs the destroy protocol for s. It is idempotent: a second
// caller waits until the first one removed the session.
func (m *Manager) destroy(ctx context.Context, s *Session, opts destroyOptions) (destroyOutcome, error) {
	unlock, err := m.store.Lock(ctx, s.tenant)
	if err != nil {
		return destroyOutcome{}, fmt.Errorf("acquire token of %s: %w", s.tenant, err)
	}

	if m.store.Get(s.tenant) != s {
		unlock()

		return destroyOutcome{}, nil
	}

	if s.destroying {
		unlock()

		select {
		case <-s.done:
			return destroyOutcome{}, nil
		case <-ctx.Done():
			return destroyOutcome{}, ctx.Err()
		}
	}

	td := m.beginDestroy(s, opts.Reason)
	unlock()

	return m.finishDestroy(ctx, td, opts), nil
}

// finishDestroy releases the client, optionally purges credentials and
// removes the session. It runs to completion even if ctx is cancelled.
func (m *Manager) finishDestroy(ctx context.Context, td teardown, opts destroyOptions) destroyOutcome {
	ctx = ctxutil.Detached(ctx)
	s := td.s
	out := destroyOutcome{Performed: true, TeardownPath: TeardownNone}

	if !waitTimeout(&s.ops, m.cfg.SendTimeout) {
		m.logger.Warnf("In-flight operations of %s did not finish within %s", s.tenant, m.cfg.SendTimeout)
	}

	if td.client != nil {
		if opts.Logout {
			out.LoggedOut = m.logout(ctx, s.tenant, td.client)
		}

		out.TeardownPath = m.releaseClient(ctx, s.tenant, td.client, td.pid)
	}

	if opts.Purge {
		out.RemovedPaths = m.purgeCredentials(ctx, s.tenant)
	}

	// the removal itself is unconditional
	unlock, err := m.store.Lock(ctx, s.tenant)
	if err == nil {
		m.store.remove(s.tenant, s)
		unlock()
	}

	s.markDone()
	metrics.RemoveSession(s.tenant)
	metrics.RecordDestroy(out.TeardownPath)

	m.logger.Infof("Session %s destroyed (teardown: %s)", s.tenant, out.TeardownPath)

	return out
}

func (m *Manager) logout(ctx context.Context, tenant string, client chatclient.Client) bool {
	lctx, cancel := ctxutil.WithBoundedTimeout(ctx, m.cfg.LogoutTimeout)
	defer cancel()

	if err := client.Logout(lctx); err != nil {
		m.logger.Warnf("Logout of %s failed: %v", tenant, err)

		return false
	}

	return true
}

// releaseClient shuts a client down, escalating from a graceful destroy to
// killing its process group and finally to killing every process tagged
// with the session directory. It never fails, it reports the path it took.
func (m *Manager) releaseClient(ctx context.Context, tenant string, client chatclient.Client, pid int) string {
	dctx, cancel := ctxutil.WithBoundedTimeout(ctx, m.cfg.DestroyTimeout)
	err := client.Destroy(dctx)
	cancel()

	if err == nil {
		return TeardownGraceful
	}

	m.logger.Warnf("Graceful destroy of %s failed: %v", tenant, err)

	if pid == 0 {
		pid = client.ProcessID()
	}

	if pid > 0 {
		kerr := m.terminator.Terminate(ctx, pid)
		if kerr == nil {
			return TeardownForce
		}

		m.logger.Warnf("Killing process %d of %s failed: %v", pid, tenant, kerr)
	}

	killed, terr := m.terminator.TerminateByTag(ctx, m.sessionDir(tenant))
	if terr != nil {
		sentry.ReportSessionErrorf(m.logger, tenant, StateDestroying, "terminate_by_tag",
			"could not kill orphaned processes of %s: %v", tenant, terr)
	} else {
		m.logger.Infof("Killed %d orphaned processes of %s", killed, tenant)
	}

	return TeardownTag
}

// ownsEntry reports whether an auth dir entry belongs to tenant: the
// session directory itself or a dotted sibling of it or of the bare tenant
// id. Tenant ids never contain a dot, so a sibling cannot name another tenant.
func ownsEntry(name, tenant string) bool {
	for _, base := range []string{"session-" + tenant, tenant} {
		if name == base || strings.HasPrefix(name, base+".") {
			return true
		}
	}

	return false
}

// purgeCredentials removes the session directory of tenant and its dotted
// siblings (see ownsEntry).
func (m *Manager) purgeCredentials(ctx context.Context, tenant string) []string {
	var removed []string

	dir := m.sessionDir(tenant)

	if exists, err := m.fs.PathExists(ctx, dir); err == nil && exists {
		if err := m.fs.RemoveAll(ctx, dir); err != nil {
			m.logger.Warnf("Removing %s failed: %v", dir, err)
		} else {
			removed = append(removed, dir)
		}
	}

	entries, err := m.fs.ReadDir(ctx, m.cfg.AuthDir)
	if err != nil {
		m.logger.Debugf("Listing %s failed: %v", m.cfg.AuthDir, err)

		return removed
	}

	for _, e := range entries {
		path := filepath.Join(m.cfg.AuthDir, e.Name())
		if path == dir || !ownsEntry(e.Name(), tenant) {
			continue
		}

		if err := m.fs.RemoveAll(ctx, path); err != nil {
			m.logger.Warnf("Removing %s failed: %v", path, err)

			continue
		}

		removed = append(removed, path)
	}

	return removed
}

// ClearSession logs the tenant out, destroys its session and removes its
// credentials. Without a session only the credentials are removed.
func (m *Manager) ClearSession(ctx context.Context, tenant string) (ClearResult, error) {
	res := ClearResult{Tenant: tenant, TeardownPath: TeardownNone}

	for {
		s := m.store.Get(tenant)
		if s == nil {
			res.RemovedPaths = m.purgeCredentials(ctxutil.Detached(ctx), tenant)

			return res, nil
		}

		out, err := m.destroy(ctx, s, destroyOptions{Reason: "cleared", Logout: true, Purge: true})
		if err != nil {
			return res, err
		}

		res.HadSession = true

		if out.Performed {
			res.LoggedOut = out.LoggedOut
			res.TeardownPath = out.TeardownPath
			res.RemovedPaths = out.RemovedPaths

			return res, nil
		}

		// someone else destroyed it first, purge on the next pass
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
}

// waitTimeout waits for wg, giving up after d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

var (
	errDestroyed = errors.New("session was destroyed")
	errDetached  = errors.New("session has no client")
)

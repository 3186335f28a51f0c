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
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/backoff"
	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
)

// afterFailure decides between destroy and another reconnect attempt once a
// connection was lost. Token held.
func (m *Manager) afterFailure(s *Session, reason string) func() {
	cause := m.classifier.Classify(reason)

	switch {
	case backoff.IsPermanentError(cause):
		metrics.RecordReconnect(s.tenant, "permanent")

		return m.destroyLater(s, "permanent disconnect: "+reason)
	case !backoff.IsTransientError(cause):
		m.logger.Debugf("Not reconnecting %s after %s failure: %v", s.tenant, backoff.CategoryOf(cause), cause)

		return nil
	}

	if !m.cfg.Reconnect.Enabled {
		return nil
	}

	if m.cfg.Reconnect.Policy.Exhausted(s.info.ReconnectAttempts) {
		metrics.RecordReconnect(s.tenant, "exhausted")
		m.logger.Warnf("Session %s used all %d reconnect attempts", s.tenant, m.cfg.Reconnect.Policy.MaxAttempts)

		return m.destroyLater(s, "reconnect attempts exhausted")
	}

	m.scheduleReconnect(s)

	return nil
}

func (m *Manager) destroyLater(s *Session, reason string) func() {
	return func() {
		if _, err := m.destroy(m.ctx, s, destroyOptions{Reason: reason}); err != nil && m.ctx.Err() == nil {
			sentry.ReportSessionError(m.logger, s.tenant, StateDestroying, "destroy", fmt.Errorf("destroy after %q: %w", reason, err))
		}
	}
}

// scheduleReconnect arms the reconnect timer. At most one timer exists per
// tenant and none once the session is being destroyed. Token held.
func (m *Manager) scheduleReconnect(s *Session) {
	if s.destroying || s.reconnectTimer != nil {
		return
	}

	if s.machine.Can(EventReconnect) {
		if err := s.fire(EventReconnect); err != nil {
			m.logger.Debugf("Cannot schedule reconnect for %s: %v", s.tenant, err)

			return
		}
	}

	attempt := s.info.ReconnectAttempts
	delay := m.cfg.Reconnect.Policy.Delay(attempt)

	s.reconnectTimer = time.AfterFunc(delay, func() { m.attemptReconnect(s) })
	s.update(func(i *Info) { i.ReconnectPending = true })

	metrics.RecordReconnect(s.tenant, "scheduled")
	logger.For(logger.ComponentReconnect).Infof("Reconnect %d/%d for %s in %s",
		attempt+1, m.cfg.Reconnect.Policy.MaxAttempts, s.tenant, delay)
}

// attemptReconnect replaces the client of s. The old client is torn down
// without the token so a hung client never blocks the tenant.
func (m *Manager) attemptReconnect(s *Session) {
	log := logger.For(logger.ComponentReconnect)

	unlock, err := m.store.Lock(m.ctx, s.tenant)
	if err != nil {
		return
	}

	if m.store.Get(s.tenant) != s || s.destroying || s.reconnectTimer == nil {
		unlock()

		return
	}

	s.reconnectTimer = nil

	if s.machine.GetCurrentFSMState() != StateReconnecting {
		s.update(func(i *Info) { i.ReconnectPending = false })
		unlock()

		return
	}

	s.update(func(i *Info) {
		i.ReconnectAttempts++
		i.ReconnectPending = false
	})

	attempt := s.info.ReconnectAttempts
	pid := s.info.ProcessID
	old := m.detach(s)

	unlock()

	log.Infof("Reconnect attempt %d for %s", attempt, s.tenant)
	metrics.RecordReconnect(s.tenant, "attempt")

	if old != nil {
		path := m.releaseClient(m.ctx, s.tenant, old, pid)
		log.Debugf("Previous client of %s released via %s", s.tenant, path)
	}

	unlock, err = m.store.Lock(m.ctx, s.tenant)
	if err != nil {
		return
	}

	if m.store.Get(s.tenant) != s || s.destroying {
		unlock()

		return
	}

	client, err := m.factory(s.tenant)
	if err != nil {
		log.Warnf("Reconnect of %s could not create a client: %v", s.tenant, err)
		metrics.IncErrorCount(metrics.ComponentReconnect, s.tenant)

		followup := m.afterFailure(s, "client creation failed")
		unlock()

		if followup != nil {
			followup()
		}

		return
	}

	gen := m.attach(s, client)
	s.graceTimer = time.AfterFunc(m.cfg.Reconnect.GraceWindow, func() { m.graceExpired(s, gen) })
	m.initialize(s, client, gen)

	unlock()
}

// graceExpired counts a replacement client that did not become ready in time as a failed attempt.
func (m *Manager) graceExpired(s *Session, gen uint64) {
	unlock, err := m.store.Lock(m.ctx, s.tenant)
	if err != nil {
		return
	}

	if !m.current(s, gen) || s.graceTimer == nil {
		unlock()

		return
	}

	s.graceTimer = nil

	var followup func()

	switch s.machine.GetCurrentFSMState() {
	case StateReady:
	case StateReconnecting:
		now := s.now()
		s.update(func(i *Info) {
			i.LastDisconnectAt = now
			i.LastDisconnectReason = "reconnect grace window expired"
		})
		followup = m.afterFailure(s, "reconnect grace window expired")
	default:
		followup = m.onDisconnect(s, "reconnect grace window expired")
	}

	unlock()

	if followup != nil {
		followup()
	}
}

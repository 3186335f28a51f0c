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
	"github.com/united-manufacturing-hub/chatgate/pkg/backoff"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// pump consumes the events of one client generation in order.
func (m *Manager) pump(s *Session, client chatclient.Client, gen uint64, stop <-chan struct{}) {
	events := client.Events()

	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				m.handleEvent(s, gen, chatclient.Disconnected("client closed"))

				return
			}

			if ev.Kind == chatclient.EventMessage {
				m.deliver(s, ev)

				continue
			}

			m.handleEvent(s, gen, ev)
		}
	}
}

// handleEvent applies ev under the tenant token. Events of replaced client
// generations are dropped. Follow-up work such as a destroy runs after the
// token is released.
func (m *Manager) handleEvent(s *Session, gen uint64, ev chatclient.Event) {
	unlock, err := m.store.Lock(m.ctx, s.tenant)
	if err != nil {
		return
	}

	if !m.current(s, gen) {
		unlock()
		m.logger.Debugf("Dropping %s event of stale client generation %d for %s", ev.Kind, gen, s.tenant)

		return
	}

	followup := m.applyEvent(s, gen, ev)

	unlock()

	if followup != nil {
		followup()
	}
}

func (m *Manager) applyEvent(s *Session, gen uint64, ev chatclient.Event) func() {
	state := s.machine.GetCurrentFSMState()

	switch ev.Kind {
	case chatclient.EventQR:
		if state == StateQRPending {
			s.update(func(i *Info) { i.PairingCode = ev.PairingCode })
			s.notify()

			return nil
		}

		if err := s.fire(EventQR, ev.PairingCode); err != nil {
			m.logger.Debugf("Ignoring pairing code for %s: %v", s.tenant, err)

			return nil
		}

		m.logger.Infof("Pairing code available for %s", s.tenant)

	case chatclient.EventAuthenticated:
		if err := s.fire(EventAuthenticated); err != nil {
			m.logger.Debugf("Ignoring authenticated event for %s: %v", s.tenant, err)

			return nil
		}

		m.logger.Infof("Session %s authenticated, synchronizing", s.tenant)

	case chatclient.EventReady:
		m.markReady(s, "")

	case chatclient.EventLoading:
		if state != StateAuthenticatedSyncing {
			return nil
		}

		s.update(func(i *Info) {
			i.SyncProgressPercent = ev.Percent
			i.SyncStatusMessage = ev.Message
		})

		if ev.Percent >= 100 {
			m.scheduleConfirm(s, gen, m.cfg.LoadingConfirmDelay, "loading")
		}

	case chatclient.EventBattery:
		if state == StateAuthenticatedSyncing {
			m.scheduleConfirm(s, gen, m.cfg.BatteryConfirmDelay, "battery")
		}

	case chatclient.EventStateChanged:
		cs := ev.State.Normalize()

		switch {
		case cs.IsConnected():
			s.update(func(i *Info) { i.ConsecutiveProbeFailures = 0 })
		case cs.IsDisconnected(), cs.IsBlocked():
			return m.onDisconnect(s, string(cs))
		}

	case chatclient.EventDisconnected:
		return m.onDisconnect(s, ev.Reason)

	case chatclient.EventAuthFailure:
		m.logger.Warnf("Authentication of %s failed: %s", s.tenant, ev.Reason)

		return m.onDisconnect(s, "AUTH_FAILURE")

	case chatclient.EventError:
		cause := m.classifier.ClassifyError(ev.Err)
		if cause == nil {
			return nil
		}

		if backoff.IsIgnoredError(cause) {
			sentry.ReportSessionWarning(m.logger, s.tenant, state, "client_event", ev.Err)

			return nil
		}

		return m.onDisconnect(s, ev.Err.Error())
	}

	return nil
}

// markReady moves s to ready. rule names the inference rule when the
// promotion did not come from the client. Token held.
func (m *Manager) markReady(s *Session, rule string) bool {
	from := s.machine.GetCurrentFSMState()
	attempts := s.info.ReconnectAttempts

	if err := s.fire(EventReady, rule); err != nil {
		m.logger.Debugf("Ignoring ready for %s: %v", s.tenant, err)

		return false
	}

	stopTimer(&s.graceTimer)
	stopTimer(&s.confirmTimer)

	if from == StateReconnecting || attempts > 0 {
		metrics.RecordReconnect(s.tenant, "recovered")
	}

	if rule != "" {
		metrics.RecordForcedReady(rule)
		m.logger.Infof("Session %s promoted to ready by %s", s.tenant, rule)
	} else {
		m.logger.Infof("Session %s ready", s.tenant)
	}

	return true
}

// onDisconnect records a lost connection and decides what happens next. Token held.
func (m *Manager) onDisconnect(s *Session, reason string) func() {
	if reason == "" {
		reason = "unknown"
	}

	switch s.machine.GetCurrentFSMState() {
	case StateReconnecting:
		// the replacement client failed during its grace window
		stopTimer(&s.graceTimer)

		now := s.now()
		s.update(func(i *Info) {
			i.LastDisconnectAt = now
			i.LastDisconnectReason = reason
		})

	case StateConnecting, StateQRPending, StateAuthenticatedSyncing, StateReady:
		if err := s.fire(EventDisconnect, reason); err != nil {
			m.logger.Debugf("Ignoring disconnect of %s: %v", s.tenant, err)

			return nil
		}

		stopTimer(&s.confirmTimer)

	default:
		return nil
	}

	m.logger.Warnf("Session %s disconnected: %s", s.tenant, reason)

	return m.afterFailure(s, reason)
}

// deliver hands an incoming message to the handler. Only ready sessions deliver.
func (m *Manager) deliver(s *Session, ev chatclient.Event) {
	if m.onMessage == nil || ev.Incoming == nil || s.State() != StateReady {
		return
	}

	msg := *ev.Incoming

	m.goBackground(func() { m.onMessage(m.ctx, s.tenant, msg) })
}

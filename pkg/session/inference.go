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
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/ctxutil"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// Names of the rules that may promote a syncing session.
const (
	RuleSelfInfo        = "self-info"
	RuleProgressTimeout = "progress-timeout"
)

// ConfirmationRule decides whether a session stuck in authenticated_syncing
// is in fact usable. Rules run in order with the tenant token held.
type ConfirmationRule struct {
	Name  string
	Check func(ctx context.Context, s *Session) bool
}

// ConfirmationRules returns the ranked rule list used by status queries
// and by the loading and battery triggers alike.
func (m *Manager) ConfirmationRules() []ConfirmationRule {
	return []ConfirmationRule{
		{Name: RuleSelfInfo, Check: m.selfInfoRule},
		{Name: RuleProgressTimeout, Check: m.progressTimeoutRule},
	}
}

func (m *Manager) selfInfoRule(ctx context.Context, s *Session) bool {
	if !m.cfg.ForceReadyOnSelfInfo || s.client == nil {
		return false
	}

	if m.now().Sub(s.info.AuthenticatedAt) < m.cfg.SelfInfoMinSyncAge {
		return false
	}

	client := s.client
	start := time.Now()

	info, err := callWithTimeout(ctx, m.cfg.SelfInfoProbeTimeout, client.GetSelfInfo)
	metrics.ObserveProbe("self_info", err == nil && info.ID != "", time.Since(start))

	if err != nil || info.ID == "" {
		return false
	}

	s.update(func(i *Info) { i.SelfID = info.ID })

	return true
}

func (m *Manager) progressTimeoutRule(_ context.Context, s *Session) bool {
	return s.info.SyncProgressPercent >= 100 &&
		m.now().Sub(s.info.AuthenticatedAt) > m.cfg.ForceReadyAfter
}

// evaluateRules returns the name of the first rule that holds. Token held.
func (m *Manager) evaluateRules(ctx context.Context, s *Session) string {
	for _, r := range m.ConfirmationRules() {
		if r.Check(ctx, s) {
			return r.Name
		}
	}

	return ""
}

// scheduleConfirm runs the rule list after delay. Token held.
func (m *Manager) scheduleConfirm(s *Session, gen uint64, delay time.Duration, trigger string) {
	stopTimer(&s.confirmTimer)

	s.confirmTimer = time.AfterFunc(delay, func() { m.confirm(s, gen, trigger) })
}

func (m *Manager) confirm(s *Session, gen uint64, trigger string) {
	unlock, err := m.store.Lock(m.ctx, s.tenant)
	if err != nil {
		return
	}
	defer unlock()

	if !m.current(s, gen) || s.confirmTimer == nil {
		return
	}

	s.confirmTimer = nil

	if s.machine.GetCurrentFSMState() != StateAuthenticatedSyncing {
		return
	}

	if rule := m.evaluateRules(m.ctx, s); rule != "" {
		m.logger.Debugf("Confirmation after %s event promotes %s", trigger, s.tenant)
		m.markReady(s, rule)
	}
}

type probeResult int

const (
	probeHealthy probeResult = iota
	probeDisconnected
	probeInconclusive
)

// probeLiveness asks the client for its connectivity state within the probe timeout.
func (m *Manager) probeLiveness(ctx context.Context, client chatclient.Client) (chatclient.ConnectivityState, probeResult, error) {
	if client == nil {
		return "", probeInconclusive, errDetached
	}

	start := time.Now()
	state, err := callWithTimeout(ctx, m.cfg.LivenessProbeTimeout, client.GetConnectivityState)
	state = state.Normalize()

	res := probeInconclusive

	switch {
	case err != nil:
	case state.IsConnected():
		res = probeHealthy
	case state.IsDisconnected(), state.IsBlocked():
		res = probeDisconnected
	default:
		err = fmt.Errorf("unknown connectivity state %q", state)
	}

	metrics.ObserveProbe("liveness", res == probeHealthy, time.Since(start))

	return state, res, err
}

// GetStatus reports the status of tenant, creating and starting a session
// when none exists. A new session is awaited for a pairing code or
// readiness without holding the tenant token.
func (m *Manager) GetStatus(ctx context.Context, tenant string) (Status, error) {
	lctx, cancel := context.WithTimeout(ctx, m.cfg.LockTimeout)
	unlock, err := m.store.Lock(lctx, tenant)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return Status{}, fmt.Errorf("acquire token of %s: %w", tenant, ctx.Err())
		}

		return Status{}, fmt.Errorf("acquire token of %s: %w", tenant, ErrSessionBusy)
	}

	s, created := m.store.GetOrCreate(tenant, func() *Session { return m.newSession(tenant) })
	if created {
		if err := m.connect(s); err != nil {
			td := m.beginDestroy(s, "connect failed")
			unlock()
			m.finishDestroy(ctx, td, destroyOptions{})

			return Status{}, err
		}
	}

	if s.destroying {
		unlock()

		return notConnected(StateDestroying, ErrSessionDestroying.Error()), nil
	}

	var (
		status   Status
		followup func()
	)

	switch state := s.machine.GetCurrentFSMState(); state {
	case StateUninitialized, StateConnecting:
		unlock()

		return m.waitForStatus(ctx, s)

	case StateReady:
		status, followup = m.readyStatus(ctx, s)

	case StateAuthenticatedSyncing:
		if rule := m.evaluateRules(ctx, s); rule != "" && m.markReady(s, rule) {
			status = readyStatusOf(s.Snapshot())
		} else {
			status = m.syncingStatusOf(s.Snapshot())
		}

	case StateQRPending:
		status = Status{Kind: StatusQRRequired, State: state, PairingCode: s.info.PairingCode}

	default:
		status = notConnected(state, s.info.LastDisconnectReason)
	}

	unlock()

	if followup != nil {
		followup()
	}

	return status, nil
}

// readyStatus probes a ready session. Token held, followup runs after release.
func (m *Manager) readyStatus(ctx context.Context, s *Session) (Status, func()) {
	state, res, err := m.probeLiveness(ctx, s.client)

	switch res {
	case probeHealthy:
		s.update(func(i *Info) { i.ConsecutiveProbeFailures = 0 })

		return readyStatusOf(s.Snapshot()), nil

	case probeDisconnected:
		followup := m.onDisconnect(s, string(state))

		return notConnected(s.State(), string(state)), followup
	}

	failures := s.info.ConsecutiveProbeFailures + 1
	s.update(func(i *Info) { i.ConsecutiveProbeFailures = failures })

	m.logger.Warnf("Liveness probe of %s inconclusive (%d/%d): %v", s.tenant, failures, m.cfg.ProbeFailureThreshold, err)

	if failures < m.cfg.ProbeFailureThreshold {
		return notConnected(StateReady, fmt.Sprintf("liveness probe failed: %v", err)), nil
	}

	td := m.beginDestroy(s, fmt.Sprintf("%d liveness probes failed", failures))

	return notConnected(StateDestroying, "connection lost, session restarted"), func() {
		m.finishDestroy(ctx, td, destroyOptions{})
	}
}

func readyStatusOf(info Info) Status {
	return Status{Kind: StatusReady, State: StateReady, ForcedBy: info.ForcedReadyBy, SelfID: info.SelfID}
}

func (m *Manager) syncingStatusOf(info Info) Status {
	return Status{
		Kind:        StatusSyncing,
		State:       StateAuthenticatedSyncing,
		Progress:    info.SyncProgressPercent,
		SyncMessage: info.SyncStatusMessage,
		SyncElapsed: m.now().Sub(info.AuthenticatedAt),
	}
}

// waitForStatus waits until a starting session shows a pairing code or
// progresses further, bounded by the status wait timeout.
func (m *Manager) waitForStatus(ctx context.Context, s *Session) (Status, error) {
	timer := time.NewTimer(m.cfg.StatusWaitTimeout)
	defer timer.Stop()

	for {
		changed := s.changes()
		info := s.Snapshot()

		switch info.State {
		case StateQRPending:
			return Status{Kind: StatusQRRequired, State: info.State, PairingCode: info.PairingCode}, nil
		case StateReady:
			return readyStatusOf(info), nil
		case StateAuthenticatedSyncing:
			return m.syncingStatusOf(info), nil
		case StateDisconnected, StateReconnecting:
			return notConnected(info.State, info.LastDisconnectReason), nil
		case StateDestroying:
			return notConnected(info.State, ErrSessionDestroying.Error()), nil
		}

		select {
		case <-changed:
		case <-s.done:
			return notConnected(StateDestroying, errDestroyed.Error()), nil
		case <-timer.C:
			return Status{}, ErrNotReadyYet
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
}

// CheckConnectionStatus is the cheap status check. It never creates,
// destroys or promotes a session and returns within the lock timeout plus
// one liveness probe.
func (m *Manager) CheckConnectionStatus(ctx context.Context, tenant string) Status {
	if m.store.Get(tenant) == nil {
		return notConnected("", ErrSessionNotFound.Error())
	}

	lctx, cancel := context.WithTimeout(ctx, m.cfg.LockTimeout)
	unlock, err := m.store.Lock(lctx, tenant)
	cancel()

	if err != nil {
		s := m.store.Get(tenant)
		if s == nil {
			return notConnected("", ErrSessionNotFound.Error())
		}

		return notConnected(s.State(), "busy")
	}
	defer unlock()

	s := m.store.Get(tenant)
	if s == nil {
		return notConnected("", ErrSessionNotFound.Error())
	}

	if s.destroying {
		return notConnected(StateDestroying, ErrSessionDestroying.Error())
	}

	info := s.Snapshot()

	switch info.State {
	case StateReady:
		if !m.cfg.CheckProbesReady {
			return readyStatusOf(info)
		}

		_, res, err := m.probeLiveness(ctx, s.client)
		if res != probeHealthy {
			return notConnected(StateReady, fmt.Sprintf("liveness probe failed: %v", err))
		}

		return readyStatusOf(info)

	case StateAuthenticatedSyncing:
		return m.syncingStatusOf(info)

	case StateQRPending:
		return Status{Kind: StatusQRRequired, State: info.State, PairingCode: info.PairingCode}

	case StateConnecting, StateUninitialized:
		return notConnected(info.State, "connecting")

	default:
		return notConnected(info.State, info.LastDisconnectReason)
	}
}

// callWithTimeout bounds a client call even when the client ignores its context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := ctxutil.WithBoundedTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}

	ch := make(chan result, 1)

	go func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		var zero T

		return zero, fmt.Errorf("client call: %w", cctx.Err())
	}
}

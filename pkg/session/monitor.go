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
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/chatgate/pkg/ctxutil"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
)

// SweepResult summarizes one pass of the zombie session monitor.
type SweepResult struct {
	Checked   int `json:"checked"`
	Skipped   int `json:"skipped"`
	Destroyed int `json:"destroyed"`
	Demoted   int `json:"demoted"`
}

type sweepCounters struct {
	checked, skipped, destroyed, demoted atomic.Int32
}

func (c *sweepCounters) result() SweepResult {
	return SweepResult{
		Checked:   int(c.checked.Load()),
		Skipped:   int(c.skipped.Load()),
		Destroyed: int(c.destroyed.Load()),
		Demoted:   int(c.demoted.Load()),
	}
}

func (m *Manager) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Monitor.Interval)
	defer ticker.Stop()

	m.monitorLogger.Infof("Session monitor started, interval %s", m.cfg.Monitor.Interval)

	for {
		select {
		case <-ctx.Done():
			m.monitorLogger.Info("Session monitor stopped")

			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, m.cfg.Monitor.Interval)
			res := m.Sweep(sctx)
			cancel()

			if res.Destroyed > 0 || res.Demoted > 0 {
				m.monitorLogger.Infof("Sweep: %d checked, %d skipped, %d destroyed, %d demoted",
					res.Checked, res.Skipped, res.Destroyed, res.Demoted)
			} else {
				m.monitorLogger.Debugf("Sweep: %d checked, %d skipped", res.Checked, res.Skipped)
			}
		}
	}
}

// Sweep checks every session once. Sessions that are busy or in a
// transitional state are skipped and looked at in the next sweep.
func (m *Manager) Sweep(ctx context.Context) SweepResult {
	start := time.Now()

	var counters sweepCounters

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Monitor.Concurrency)

	for _, tenant := range m.store.Tenants() {
		g.Go(func() error {
			m.checkTenant(gctx, tenant, &counters)

			return nil
		})
	}

	_ = g.Wait()

	res := counters.result()
	metrics.RecordSweep(res.Checked, res.Skipped, res.Destroyed, res.Demoted, time.Since(start))

	return res
}

func (m *Manager) checkTenant(ctx context.Context, tenant string, c *sweepCounters) {
	// a probe that cannot finish before the sweep ends would count as a failure
	if _, enough, err := ctxutil.HasSufficientTime(ctx, m.cfg.LivenessProbeTimeout); err == nil && !enough {
		c.skipped.Add(1)

		return
	}

	unlock, ok := m.store.TryLock(tenant)
	if !ok {
		c.skipped.Add(1)

		return
	}

	s := m.store.Get(tenant)
	if s == nil {
		unlock()

		return
	}

	state := s.machine.GetCurrentFSMState()

	switch {
	case s.destroying, s.reconnectTimer != nil,
		state == StateConnecting, state == StateReconnecting, state == StateDestroying, state == StateUninitialized:
		unlock()
		c.skipped.Add(1)

		return
	}

	c.checked.Add(1)

	if reason, dead := m.clientGone(ctx, s); dead {
		td := m.beginDestroy(s, reason)
		unlock()

		m.monitorLogger.Warnf("Session %s is a zombie: %s", tenant, reason)
		m.finishDestroy(ctx, td, destroyOptions{})
		c.destroyed.Add(1)

		return
	}

	switch state {
	case StateReady:
		cs, res, err := m.probeLiveness(ctx, s.client)
		if res == probeHealthy {
			unlock()

			return
		}

		reason := string(cs)
		if res == probeInconclusive {
			reason = "liveness probe failed: " + errString(err)
		}

		followup := m.onDisconnect(s, reason)
		unlock()

		c.demoted.Add(1)

		// a followup is always a destroy
		if followup != nil {
			followup()
			c.destroyed.Add(1)
		}

	case StateDisconnected:
		since := m.now().Sub(s.info.LastDisconnectAt)
		if since <= m.cfg.Monitor.StaleDisconnectAfter {
			unlock()

			return
		}

		td := m.beginDestroy(s, "disconnected for "+since.Round(time.Second).String())
		unlock()

		m.finishDestroy(ctx, td, destroyOptions{})
		c.destroyed.Add(1)

	default:
		unlock()
	}
}

// clientGone reports whether the execution surface of the client died. Token held.
func (m *Manager) clientGone(ctx context.Context, s *Session) (string, bool) {
	if s.client == nil {
		return "client missing", s.machine.GetCurrentFSMState() != StateDisconnected
	}

	if s.client.IsClosed() {
		return "client closed", true
	}

	pid := s.info.ProcessID
	if pid <= 0 {
		return "", false
	}

	running, err := m.terminator.IsRunning(ctx, pid)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentSessionMonitor, s.tenant)
		sentry.ReportSessionWarning(m.monitorLogger, s.tenant, s.State(), "process_check", err)

		return "", false
	}

	if !running {
		return "client process is gone", true
	}

	return "", false
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}

	return err.Error()
}

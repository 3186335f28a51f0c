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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/chatgate/internal/fsm"
)

var _ = Describe("Session state machine", func() {
	var (
		s   *Session
		now time.Time
	)

	BeforeEach(func() {
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		s = newSession("acme", func() time.Time { return now })
		s.attachMachine(zaptest.NewLogger(GinkgoT()).Sugar())
	})

	It("starts uninitialized", func() {
		Expect(s.State()).To(Equal(StateUninitialized))
		Expect(s.Snapshot().CreatedAt).To(Equal(now))
	})

	It("walks the pairing path to ready", func() {
		Expect(s.fire(EventConnect)).To(Succeed())
		Expect(s.fire(EventQR, "code-1")).To(Succeed())
		Expect(s.Snapshot().PairingCode).To(Equal("code-1"))

		now = now.Add(time.Minute)
		Expect(s.fire(EventAuthenticated)).To(Succeed())

		info := s.Snapshot()
		Expect(info.State).To(Equal(StateAuthenticatedSyncing))
		Expect(info.PairingCode).To(BeEmpty())
		Expect(info.AuthenticatedAt).To(Equal(now))

		now = now.Add(time.Minute)
		Expect(s.fire(EventReady, "")).To(Succeed())

		info = s.Snapshot()
		Expect(info.State).To(Equal(StateReady))
		Expect(info.ReadyAt).To(Equal(now))
		Expect(info.LastStateChangeAt).To(Equal(now))
		Expect(info.PairingCode).To(BeEmpty())
	})

	It("resets counters when the session becomes ready", func() {
		Expect(s.fire(EventConnect)).To(Succeed())
		s.update(func(i *Info) {
			i.ReconnectAttempts = 2
			i.ConsecutiveProbeFailures = 1
		})

		Expect(s.fire(EventReady, "")).To(Succeed())
		Expect(s.Snapshot().ReconnectAttempts).To(BeZero())
		Expect(s.Snapshot().ConsecutiveProbeFailures).To(BeZero())
	})

	It("records the disconnect reason", func() {
		Expect(s.fire(EventConnect)).To(Succeed())
		Expect(s.fire(EventReady, "")).To(Succeed())
		Expect(s.fire(EventDisconnect, "NAVIGATION")).To(Succeed())

		info := s.Snapshot()
		Expect(info.State).To(Equal(StateDisconnected))
		Expect(info.LastDisconnectReason).To(Equal("NAVIGATION"))
		Expect(info.LastDisconnectAt).To(Equal(now))
	})

	It("only reconnects from disconnected", func() {
		Expect(s.fire(EventConnect)).To(Succeed())
		Expect(s.fire(EventReconnect)).To(MatchError(fsm.ErrTransitionRejected))

		Expect(s.fire(EventDisconnect, "x")).To(Succeed())
		Expect(s.fire(EventReconnect)).To(Succeed())
		Expect(s.State()).To(Equal(StateReconnecting))

		Expect(s.fire(EventQR, "code-2")).To(Succeed())
		Expect(s.State()).To(Equal(StateQRPending))
	})

	It("allows destroy from every state but destroying", func() {
		visited := []string{s.State()}
		Expect(s.machine.Can(EventDestroy)).To(BeTrue())

		for _, ev := range []string{EventConnect, EventQR, EventAuthenticated, EventReady, EventDisconnect, EventReconnect} {
			Expect(s.fire(ev, "")).To(Succeed(), ev)
			Expect(s.machine.Can(EventDestroy)).To(BeTrue(), s.State())

			visited = append(visited, s.State())
		}

		Expect(visited).To(ConsistOf(allButDestroying))

		Expect(s.fire(EventDestroy)).To(Succeed())
		Expect(s.fire(EventDestroy)).To(MatchError(fsm.ErrTransitionRejected))
	})

	It("wakes waiters on every transition", func() {
		changed := s.changes()

		Expect(s.fire(EventConnect)).To(Succeed())
		Eventually(changed).Should(BeClosed())
	})

	It("hands out independent snapshots", func() {
		snap := s.Snapshot()
		snap.PairingCode = "mutated"

		Expect(s.Snapshot().PairingCode).To(BeEmpty())
	})
})

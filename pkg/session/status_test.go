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

package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
	"github.com/united-manufacturing-hub/chatgate/pkg/session"
)

var _ = Describe("GetStatus", func() {
	var (
		h   *harness
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		h.shutdown()
	})

	Context("when the tenant has no session", func() {
		It("creates one and returns the pairing code", func() {
			h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
				c.InitEvents = []chatclient.Event{chatclient.QR("pair-me")}
			})

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusQRRequired))
			Expect(st.PairingCode).To(Equal("pair-me"))
			Expect(h.factory.Clients("acme")).To(HaveLen(1))
		})

		It("returns a retryable not-ready error when nothing happens in time", func() {
			h = newHarness(testConfig(), nil)

			start := time.Now()
			_, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).To(MatchError(session.ErrNotReadyYet))
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(h.stateOf("acme")).To(Equal(session.StateConnecting))
		})

		It("removes the session when no client can be created", func() {
			h = newHarness(testConfig(), nil)
			h.factory.Err = errors.New("no browser")

			_, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).To(HaveOccurred())
			Expect(h.manager.Store().Get("acme")).To(BeNil())
		})

		It("reports the newest pairing code after a refresh", func() {
			h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
				c.InitEvents = []chatclient.Event{chatclient.QR("code-1")}
			})
			client := h.start("acme", session.StateQRPending)

			client.Emit(chatclient.QR("code-2"))

			Eventually(func() string {
				st, _ := h.manager.GetStatus(ctx, "acme")

				return st.PairingCode
			}).Should(Equal("code-2"))
		})
	})

	Context("when another request holds the tenant token", func() {
		It("gives up after the lock timeout with a retryable error", func() {
			cfg := testConfig()

			h = newHarness(cfg, alwaysReady)
			h.start("acme", session.StateReady)

			unlock, err := h.manager.Store().Lock(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			defer unlock()

			start := time.Now()
			_, err = h.manager.GetStatus(ctx, "acme")
			Expect(err).To(MatchError(session.ErrSessionBusy))
			Expect(time.Since(start)).To(BeNumerically("<", cfg.LockTimeout+200*time.Millisecond))
		})

		It("returns the caller's error when the request ends first", func() {
			h = newHarness(testConfig(), alwaysReady)
			h.start("acme", session.StateReady)

			unlock, err := h.manager.Store().Lock(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			defer unlock()

			cctx, cancel := context.WithCancel(ctx)
			cancel()

			_, err = h.manager.GetStatus(cctx, "acme")
			Expect(err).To(MatchError(context.Canceled))
			Expect(err).NotTo(MatchError(session.ErrSessionBusy))
		})
	})

	Context("when the session is ready", func() {
		It("returns READY after a healthy probe", func() {
			h = newHarness(testConfig(), alwaysReady)
			h.start("acme", session.StateReady)

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusReady))
			Expect(st.ForcedBy).To(BeEmpty())
		})

		It("demotes immediately on a disconnected probe result", func() {
			h = newHarness(testConfig(), readyOnFirst)
			client := h.start("acme", session.StateReady)
			client.SetState(chatclient.StateDisconnected)

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusNotConnected))
			Expect(st.Retryable).To(BeTrue())
			Expect(h.info("acme").LastDisconnectReason).To(Equal("DISCONNECTED"))
		})

		It("destroys the session after the probe timed out twice in a row", func() {
			h = newHarness(testConfig(), func(_ string, n int, c *chatclient.MockClient) {
				if n == 0 {
					c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
					c.GetConnectivityStateFunc = func(ctx context.Context) (chatclient.ConnectivityState, error) {
						return "", chatclient.BlockUntilDone(ctx)
					}
				}
			})
			first := h.start("acme", session.StateReady)

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusNotConnected))
			Expect(st.Retryable).To(BeTrue())
			Expect(h.info("acme").ConsecutiveProbeFailures).To(Equal(1))

			st, err = h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusNotConnected))
			Expect(h.manager.Store().Get("acme")).To(BeNil())
			Expect(first.DestroyCalls.Load()).To(BeEquivalentTo(1))

			_, err = h.manager.GetStatus(ctx, "acme")
			Expect(err).To(MatchError(session.ErrNotReadyYet))
			Expect(h.stateOf("acme")).To(Equal(session.StateConnecting))
			Expect(h.info("acme").ReconnectAttempts).To(BeZero())
			Expect(h.factory.Clients("acme")).To(HaveLen(2))
		})

		It("resets the failure counter after a healthy probe", func() {
			var fail atomic.Bool

			h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
				c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
				c.GetConnectivityStateFunc = func(context.Context) (chatclient.ConnectivityState, error) {
					if fail.Load() {
						return "", errors.New("evaluation failed")
					}

					return chatclient.StateConnected, nil
				}
			})
			h.start("acme", session.StateReady)

			fail.Store(true)
			_, _ = h.manager.GetStatus(ctx, "acme")
			Expect(h.info("acme").ConsecutiveProbeFailures).To(Equal(1))

			fail.Store(false)
			st, _ := h.manager.GetStatus(ctx, "acme")
			Expect(st.Kind).To(Equal(session.StatusReady))
			Expect(h.info("acme").ConsecutiveProbeFailures).To(BeZero())
		})
	})

	Context("when the session is synchronizing", func() {
		syncing := func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated()}
		}

		It("reports progress while no rule holds", func() {
			h = newHarness(testConfig(), syncing)
			client := h.start("acme", session.StateAuthenticatedSyncing)
			client.Emit(chatclient.Loading(42, "Loading chats"))

			Eventually(func() int { return h.info("acme").SyncProgressPercent }).Should(Equal(42))

			h.clock.Advance(90 * time.Second)

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusSyncing))
			Expect(st.Progress).To(Equal(42))
			Expect(st.SyncMessage).To(Equal("Loading chats"))
			Expect(st.SyncElapsed).To(Equal(90 * time.Second))
		})

		It("promotes a session stuck at 100% after the force-ready window", func() {
			h = newHarness(testConfig(), syncing)
			client := h.start("acme", session.StateAuthenticatedSyncing)
			client.Emit(chatclient.Loading(100, "Done"))

			Eventually(func() int { return h.info("acme").SyncProgressPercent }).Should(Equal(100))

			// the 100% confirmation finds nothing yet
			Consistently(func() string { return h.stateOf("acme") }).Should(Equal(session.StateAuthenticatedSyncing))

			h.clock.Advance(6 * time.Minute)

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusReady))
			Expect(st.ForcedBy).To(Equal(session.RuleProgressTimeout))
			Expect(h.info("acme").ForcedReadyBy).To(Equal(session.RuleProgressTimeout))
		})

		It("promotes when the account data is readable", func() {
			h = newHarness(testConfig(), syncing)
			client := h.start("acme", session.StateAuthenticatedSyncing)
			client.SetSelfInfo(chatclient.SelfInfo{ID: "5511999999999@c.us"})

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusReady))
			Expect(st.ForcedBy).To(Equal(session.RuleSelfInfo))
			Expect(st.SelfID).To(Equal("5511999999999@c.us"))
		})

		It("keeps syncing when self-info promotion is disabled", func() {
			cfg := testConfig()
			cfg.ForceReadyOnSelfInfo = false

			h = newHarness(cfg, syncing)
			client := h.start("acme", session.StateAuthenticatedSyncing)
			client.SetSelfInfo(chatclient.SelfInfo{ID: "5511999999999@c.us"})

			st, err := h.manager.GetStatus(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Kind).To(Equal(session.StatusSyncing))
		})

		It("waits for the minimum sync age before trusting self info", func() {
			cfg := testConfig()
			cfg.SelfInfoMinSyncAge = time.Minute

			h = newHarness(cfg, syncing)
			client := h.start("acme", session.StateAuthenticatedSyncing)
			client.SetSelfInfo(chatclient.SelfInfo{ID: "me"})

			st, _ := h.manager.GetStatus(ctx, "acme")
			Expect(st.Kind).To(Equal(session.StatusSyncing))

			h.clock.Advance(2 * time.Minute)

			st, _ = h.manager.GetStatus(ctx, "acme")
			Expect(st.Kind).To(Equal(session.StatusReady))
		})

		It("confirms readiness after a battery event", func() {
			h = newHarness(testConfig(), syncing)
			client := h.start("acme", session.StateAuthenticatedSyncing)
			client.SetSelfInfo(chatclient.SelfInfo{ID: "me"})
			client.Emit(chatclient.Battery())

			Eventually(func() string { return h.stateOf("acme") }).Should(Equal(session.StateReady))
			Expect(h.info("acme").ForcedReadyBy).To(Equal(session.RuleSelfInfo))
		})

		It("confirms readiness after loading reached 100%", func() {
			h = newHarness(testConfig(), syncing)
			client := h.start("acme", session.StateAuthenticatedSyncing)
			client.SetSelfInfo(chatclient.SelfInfo{ID: "me"})
			client.Emit(chatclient.Loading(100, "Done"))

			Eventually(func() string { return h.stateOf("acme") }).Should(Equal(session.StateReady))
		})
	})
})

var _ = Describe("CheckConnectionStatus", func() {
	var (
		h       *harness
		ctx     context.Context
		release chan struct{}
	)

	BeforeEach(func() {
		ctx = context.Background()
		release = make(chan struct{})
	})

	AfterEach(func() {
		close(release)
		h.shutdown()
	})

	It("never creates a session", func() {
		h = newHarness(testConfig(), nil)

		st := h.manager.CheckConnectionStatus(ctx, "acme")
		Expect(st.Kind).To(Equal(session.StatusNotConnected))
		Expect(h.manager.Store().Len()).To(BeZero())
		Expect(h.factory.Clients("acme")).To(BeEmpty())
	})

	It("returns within its bound when the client hangs", func() {
		cfg := testConfig()

		h = newHarness(cfg, func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
			// ignores its context entirely
			c.GetConnectivityStateFunc = func(context.Context) (chatclient.ConnectivityState, error) {
				<-release

				return chatclient.StateConnected, nil
			}
		})
		h.start("acme", session.StateReady)

		start := time.Now()
		st := h.manager.CheckConnectionStatus(ctx, "acme")

		Expect(time.Since(start)).To(BeNumerically("<", cfg.LockTimeout+cfg.LivenessProbeTimeout+100*time.Millisecond))
		Expect(st.Kind).To(Equal(session.StatusNotConnected))
		Expect(h.stateOf("acme")).To(Equal(session.StateReady))
		Expect(h.info("acme").ConsecutiveProbeFailures).To(BeZero())
	})

	It("reports busy when the tenant token is held", func() {
		cfg := testConfig()

		h = newHarness(cfg, alwaysReady)
		h.start("acme", session.StateReady)

		unlock, err := h.manager.Store().Lock(ctx, "acme")
		Expect(err).NotTo(HaveOccurred())

		start := time.Now()
		st := h.manager.CheckConnectionStatus(ctx, "acme")
		unlock()

		Expect(time.Since(start)).To(BeNumerically("<", cfg.LockTimeout+100*time.Millisecond))
		Expect(st.Kind).To(Equal(session.StatusNotConnected))
		Expect(st.Reason).To(Equal("busy"))
	})

	It("does not promote a syncing session", func() {
		h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated()}
		})
		client := h.start("acme", session.StateAuthenticatedSyncing)
		client.SetSelfInfo(chatclient.SelfInfo{ID: "me"})

		st := h.manager.CheckConnectionStatus(ctx, "acme")
		Expect(st.Kind).To(Equal(session.StatusSyncing))
		Expect(h.stateOf("acme")).To(Equal(session.StateAuthenticatedSyncing))
		Expect(client.SelfInfoCalls.Load()).To(BeZero())
	})

	It("skips the probe when disabled", func() {
		cfg := testConfig()
		cfg.CheckProbesReady = false

		h = newHarness(cfg, alwaysReady)
		client := h.start("acme", session.StateReady)

		Expect(h.manager.CheckConnectionStatus(ctx, "acme").Kind).To(Equal(session.StatusReady))
		Expect(client.StateCalls.Load()).To(BeZero())
	})
})

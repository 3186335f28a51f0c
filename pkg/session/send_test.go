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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
	"github.com/united-manufacturing-hub/chatgate/pkg/session"
)

func sendKind(err error) session.SendErrorKind {
	var se *session.SendError
	if errors.As(err, &se) {
		return se.Kind
	}

	return ""
}

var _ = DescribeTable("FormatChatID",
	func(number, want string) {
		Expect(session.FormatChatID(number)).To(Equal(want))
	},
	Entry("plain digits", "5511999999999", "5511999999999@c.us"),
	Entry("formatted number", "+55 (11) 99999-9999", "5511999999999@c.us"),
	Entry("already a chat id", "5511999999999@c.us", "5511999999999@c.us"),
	Entry("no digits", "abc", ""),
)

var _ = Describe("SendMessage", func() {
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

	It("refuses to send without a ready session", func() {
		h = newHarness(testConfig(), nil)

		_, err := h.manager.SendMessage(ctx, "acme", "5511999999999", "hi")
		Expect(sendKind(err)).To(Equal(session.SendNotReady))
		Expect(h.manager.Store().Len()).To(BeZero())
	})

	It("sends through the ready session", func() {
		h = newHarness(testConfig(), alwaysReady)
		client := h.start("acme", session.StateReady)

		res, err := h.manager.SendMessage(ctx, "acme", "+55 11 99999-9999", "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ChatID).To(Equal("5511999999999@c.us"))
		Expect(res.MessageID).NotTo(BeEmpty())
		Expect(res.Attempts).To(Equal(1))
		Expect(client.SendCalls.Load()).To(BeEquivalentTo(1))
	})

	It("retries once on a known client defect", func() {
		h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
			c.SendMessageFunc = func(_ context.Context, chatID, _ string) (chatclient.SentMessage, error) {
				if c.SendCalls.Load() == 1 {
					return chatclient.SentMessage{}, errors.New("Evaluation failed: TypeError: Cannot read properties of undefined (reading 'serialize')")
				}

				return chatclient.SentMessage{ID: "m2", ChatID: chatID}, nil
			}
		})
		client := h.start("acme", session.StateReady)

		res, err := h.manager.SendMessage(ctx, "acme", "5511999999999", "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.MessageID).To(Equal("m2"))
		Expect(res.Attempts).To(Equal(2))
		Expect(client.SendCalls.Load()).To(BeEquivalentTo(2))
	})

	It("gives up after the single retry", func() {
		h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
			c.SendMessageFunc = func(context.Context, string, string) (chatclient.SentMessage, error) {
				return chatclient.SentMessage{}, errors.New("Execution context was destroyed, most likely because of a navigation.")
			}
		})
		client := h.start("acme", session.StateReady)

		_, err := h.manager.SendMessage(ctx, "acme", "5511999999999", "hi")
		Expect(sendKind(err)).To(Equal(session.SendKnownDefect))
		Expect(client.SendCalls.Load()).To(BeEquivalentTo(2))
		Expect(h.stateOf("acme")).To(Equal(session.StateReady))
	})

	It("classifies an invalid destination", func() {
		h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
			c.SendMessageFunc = func(context.Context, string, string) (chatclient.SentMessage, error) {
				return chatclient.SentMessage{}, errors.New("Evaluation failed: Error: wid error: invalid wid")
			}
		})
		h.start("acme", session.StateReady)

		_, err := h.manager.SendMessage(ctx, "acme", "123", "hi")
		Expect(sendKind(err)).To(Equal(session.SendInvalidDestination))
		Expect(h.stateOf("acme")).To(Equal(session.StateReady))
	})

	It("rejects a number without digits before touching the client", func() {
		h = newHarness(testConfig(), alwaysReady)
		client := h.start("acme", session.StateReady)

		_, err := h.manager.SendMessage(ctx, "acme", "not a number", "hi")
		Expect(sendKind(err)).To(Equal(session.SendInvalidDestination))
		Expect(client.SendCalls.Load()).To(BeZero())
	})

	It("feeds a lost connection into the state machine", func() {
		cfg := testConfig()
		cfg.Reconnect.Enabled = false

		h = newHarness(cfg, func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
			c.SendMessageFunc = func(context.Context, string, string) (chatclient.SentMessage, error) {
				return chatclient.SentMessage{}, errTargetClosed
			}
		})
		h.start("acme", session.StateReady)

		_, err := h.manager.SendMessage(ctx, "acme", "5511999999999", "hi")
		Expect(sendKind(err)).To(Equal(session.SendConnectionLost))
		Expect(errors.Is(err, errTargetClosed)).To(BeTrue())
		Expect(h.stateOf("acme")).To(Equal(session.StateDisconnected))
	})

	It("times out a hung send", func() {
		h = newHarness(testConfig(), func(_ string, _ int, c *chatclient.MockClient) {
			c.InitEvents = []chatclient.Event{chatclient.Authenticated(), chatclient.Ready()}
			c.SendMessageFunc = func(ctx context.Context, _, _ string) (chatclient.SentMessage, error) {
				return chatclient.SentMessage{}, chatclient.BlockUntilDone(ctx)
			}
		})
		h.start("acme", session.StateReady)

		_, err := h.manager.SendMessage(ctx, "acme", "5511999999999", "hi")
		Expect(sendKind(err)).To(Equal(session.SendTimeout))
	})
})

var _ = Describe("Incoming messages", func() {
	It("are delivered only from ready sessions", func() {
		type delivery struct {
			tenant string
			msg    chatclient.IncomingMessage
		}

		received := make(chan delivery, 4)

		h := newHarness(testConfig(), alwaysReady)
		DeferCleanup(h.shutdown)

		m, err := session.NewManager(h.factory.New, testConfig(),
			session.WithClock(h.clock.Now),
			session.WithTerminator(h.term),
			session.WithFilesystem(h.fs),
			session.WithMessageHandler(func(_ context.Context, tenant string, msg chatclient.IncomingMessage) {
				received <- delivery{tenant: tenant, msg: msg}
			}),
		)
		Expect(err).NotTo(HaveOccurred())
		h.manager = m

		client := h.start("acme", session.StateReady)
		client.Emit(chatclient.Message(chatclient.IncomingMessage{ID: "in-1", From: "5511@c.us", Body: "oi"}))

		var got delivery
		Eventually(received).Should(Receive(&got))
		Expect(got.tenant).To(Equal("acme"))
		Expect(got.msg.Body).To(Equal("oi"))
	})
})

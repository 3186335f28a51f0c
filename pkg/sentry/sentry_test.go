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

package sentry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ = Describe("Reporting", func() {
	var store *eventStore

	BeforeEach(func() {
		store = newEventStore()
		Expect(sentry.Init(sentry.ClientOptions{
			Dsn:       "https://test@sentry.io/123",
			Transport: &mockTransport{store: store},
		})).To(Succeed())
		EnableTestMode()
	})

	AfterEach(func() {
		DisableTestMode()
	})

	It("shortens titles at the first separator", func() {
		Expect(getMeaningfulErrorTitle(errors.New("graceful destroy failed: context deadline exceeded"))).
			To(Equal("graceful destroy failed"))
		Expect(getMeaningfulErrorTitle(errors.New(strings.Repeat("x", 150)))).To(HaveLen(100))
	})

	It("tags session errors with tenant, state and operation", func() {
		ReportSessionError(zap.NewNop().Sugar(), "acme", "ready", "liveness_probe", errors.New("probe timed out"))

		Eventually(store.Len).Should(Equal(1))
		event := store.GetAll()[0]
		Expect(event.Tags).To(HaveKeyWithValue("tenant", "acme"))
		Expect(event.Tags).To(HaveKeyWithValue("state", "ready"))
		Expect(event.Fingerprint).To(ContainElement("operation: liveness_probe"))
		Expect(event.Threads).ToNot(BeEmpty())
	})

	It("puts complex context values into extra data", func() {
		ReportIssueWithContext(errors.New("boom"), IssueTypeWarning, nil, map[string]interface{}{
			"attempts": 3,
			"reasons":  []string{"LOGOUT"},
		})

		Eventually(store.Len).Should(Equal(1))
		event := store.GetAll()[0]
		Expect(event.Level).To(Equal(sentry.LevelWarning))
		Expect(event.Tags).To(HaveKeyWithValue("attempts", "3"))
		Expect(event.Extra).To(HaveKey("reasons"))
	})

	It("ignores nil errors", func() {
		ReportIssue(nil, IssueTypeError, nil)
		Consistently(store.Len, 100*time.Millisecond).Should(BeZero())
	})

	It("debounces issues with the same title", func() {
		DisableTestMode()

		for i := 0; i < 3; i++ {
			ReportIssuef(IssueTypeError, nil, "reconnect failed: attempt %d", i)
		}
		ReportIssuef(IssueTypeError, nil, "destroy failed: %s", "timeout")

		Eventually(store.Len).Should(Equal(2))
		Consistently(store.Len, 100*time.Millisecond).Should(Equal(2))
	})
})

var _ = Describe("SentryHook", func() {
	var (
		store *eventStore
		log   *zap.Logger
	)

	BeforeEach(func() {
		store = newEventStore()
		Expect(sentry.Init(sentry.ClientOptions{
			Dsn:       "https://test@sentry.io/123",
			Transport: &mockTransport{store: store},
		})).To(Succeed())

		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&discardWriter{}),
			zapcore.DebugLevel,
		)
		log = zap.New(NewSentryHook(core)).Named("SessionManager")
	})

	AfterEach(func() {
		sentry.Flush(time.Second)
	})

	It("captures error level logs with fields as tags", func() {
		log.Error("session teardown failed", zap.String("tenant", "acme"), zap.String("operation", "destroy"))

		Eventually(store.Len, time.Second, 10*time.Millisecond).Should(Equal(1))
		event := store.GetAll()[0]
		Expect(event.Message).To(Equal("session teardown failed"))
		Expect(event.Level).To(Equal(sentry.LevelError))
		Expect(event.Tags).To(HaveKeyWithValue("tenant", "acme"))
		Expect(event.Tags).To(HaveKeyWithValue("component", "SessionManager"))
		Expect(event.Fingerprint).To(ContainElements("tenant: acme", "operation: destroy"))
	})

	It("does not capture warnings or info logs", func() {
		log.Warn("probe slow")
		log.Info(fmt.Sprintf("session %s ready", "acme"))

		Consistently(store.Len, 200*time.Millisecond).Should(BeZero())
	})
})

type eventStore struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func newEventStore() *eventStore {
	return &eventStore{}
}

func (s *eventStore) Add(event *sentry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.events)
}

func (s *eventStore) GetAll() []*sentry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*sentry.Event(nil), s.events...)
}

type mockTransport struct {
	store *eventStore
}

func (t *mockTransport) Configure(options sentry.ClientOptions)    {}
func (t *mockTransport) Flush(timeout time.Duration) bool          { return true }
func (t *mockTransport) FlushWithContext(ctx context.Context) bool { return true }
func (t *mockTransport) Close()                                    {}

func (t *mockTransport) SendEvent(event *sentry.Event) {
	t.store.Add(event)
}

type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func (d *discardWriter) Sync() error {
	return nil
}

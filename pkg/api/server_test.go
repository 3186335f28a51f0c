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

package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/chatgate/pkg/api"
	"github.com/united-manufacturing-hub/chatgate/pkg/safejson"
	"github.com/united-manufacturing-hub/chatgate/pkg/session"
)

type fakeService struct {
	mu sync.Mutex

	status    session.Status
	statusErr error
	check     session.Status
	sendRes   session.SendResult
	sendErr   error
	summary   session.Summary
	debug     session.DebugInfo
	debugErr  error
	clearRes  session.ClearResult
	clearErr  error

	sentTo   string
	sentBody string
}

func (f *fakeService) GetStatus(context.Context, string) (session.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeService) CheckConnectionStatus(context.Context, string) session.Status {
	return f.check
}

func (f *fakeService) SendMessage(_ context.Context, _, number, body string) (session.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sentTo, f.sentBody = number, body

	return f.sendRes, f.sendErr
}

func (f *fakeService) ListSessions() session.Summary {
	return f.summary
}

func (f *fakeService) Debug(context.Context, string) (session.DebugInfo, error) {
	return f.debug, f.debugErr
}

func (f *fakeService) ClearSession(_ context.Context, tenant string) (session.ClearResult, error) {
	res := f.clearRes
	res.Tenant = tenant

	return res, f.clearErr
}

const token = "s3cret"

var _ = Describe("Server", func() {
	var (
		svc     *fakeService
		handler http.Handler
	)

	BeforeEach(func() {
		svc = &fakeService{}
		handler = api.NewServer(svc, api.Config{Port: 8080, AuthToken: token}).Handler()
	})

	do := func(method, path, body string, auth bool) (*httptest.ResponseRecorder, map[string]any) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}

		if auth {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		var out map[string]any
		if rec.Body.Len() > 0 {
			Expect(safejson.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
		}

		return rec, out
	}

	Context("authentication", func() {
		It("serves health without a token", func() {
			svc.summary = session.Summary{Totals: session.Totals{Total: 3}}

			rec, body := do(http.MethodGet, "/health", "", false)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "ok"))
			Expect(body).To(HaveKeyWithValue("sessions", BeNumerically("==", 3)))
		})

		It("answers 401 without a token", func() {
			rec, _ := do(http.MethodGet, "/companies", "", false)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("answers 403 for a wrong token", func() {
			req := httptest.NewRequest(http.MethodGet, "/companies", nil)
			req.Header.Set("Authorization", "Bearer nope")

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})

		It("rejects tenant ids that are not safe as file names", func() {
			rec, _ := do(http.MethodGet, "/status/acme.corp", "", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Context("GET /status/:tenant", func() {
		It("returns the inferred status", func() {
			svc.status = session.Status{Kind: session.StatusQRRequired, State: session.StateQRPending, PairingCode: "2@x"}

			rec, body := do(http.MethodGet, "/status/acme", "", true)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("status", "QR_REQUIRED"))
			Expect(body).To(HaveKeyWithValue("qrCode", "2@x"))
			Expect(body).To(HaveKeyWithValue("tenant", "acme"))
		})

		It("answers 503 while the session is still starting", func() {
			svc.statusErr = session.ErrNotReadyYet

			rec, body := do(http.MethodGet, "/status/acme", "", true)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(HaveKeyWithValue("retryable", true))
		})

		It("answers 503 while another request holds the tenant", func() {
			svc.statusErr = fmt.Errorf("acquire token of acme: %w", session.ErrSessionBusy)

			rec, body := do(http.MethodGet, "/status/acme", "", true)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(HaveKeyWithValue("retryable", true))
		})

		It("answers 500 for unexpected failures", func() {
			svc.statusErr = errors.New("client creation failed")

			rec, _ := do(http.MethodGet, "/status/acme", "", true)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	It("serves the cheap check", func() {
		svc.check = session.Status{Kind: session.StatusNotConnected, Reason: "session not found", Retryable: true}

		rec, body := do(http.MethodGet, "/status/acme/check", "", true)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("reason", "session not found"))
	})

	Context("POST /send-message/:tenant", func() {
		It("requires number and message", func() {
			rec, _ := do(http.MethodPost, "/send-message/acme", `{"number":"11999999999"}`, true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects numbers it cannot normalise", func() {
			rec, _ := do(http.MethodPost, "/send-message/acme", `{"number":"123","message":"hi"}`, true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("sends with the normalised number", func() {
			svc.sendRes = session.SendResult{MessageID: "m1", ChatID: "5511999999999@c.us", Attempts: 1}

			rec, body := do(http.MethodPost, "/send-message/acme", `{"number":"(11) 99999-9999","message":"hi"}`, true)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("messageId", "m1"))
			Expect(body).To(HaveKeyWithValue("formattedNumber", "+5511999999999"))
			Expect(svc.sentTo).To(Equal("+5511999999999"))
			Expect(svc.sentBody).To(Equal("hi"))
		})

		DescribeTable("maps send failures",
			func(kind session.SendErrorKind, code int) {
				svc.sendErr = &session.SendError{Kind: kind, Tenant: "acme"}

				rec, body := do(http.MethodPost, "/send-message/acme", `{"number":"11999999999","message":"hi"}`, true)
				Expect(rec.Code).To(Equal(code))
				Expect(body).To(HaveKeyWithValue("kind", string(kind)))
			},
			Entry("not ready", session.SendNotReady, http.StatusUnprocessableEntity),
			Entry("invalid destination", session.SendInvalidDestination, http.StatusNotFound),
			Entry("connection lost", session.SendConnectionLost, http.StatusServiceUnavailable),
			Entry("timeout", session.SendTimeout, http.StatusGatewayTimeout),
			Entry("known defect", session.SendKnownDefect, http.StatusBadGateway),
			Entry("unknown", session.SendUnknown, http.StatusInternalServerError),
		)
	})

	It("lists sessions with totals", func() {
		svc.summary = session.Summary{
			Sessions: []session.SessionSummary{
				{Tenant: "acme", State: session.StateReady, Ready: true},
				{Tenant: "beta", State: session.StateConnecting, Connecting: true},
			},
			Totals: session.Totals{Total: 2, Ready: 1},
		}

		rec, body := do(http.MethodGet, "/companies", "", true)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("total", BeNumerically("==", 2)))
		Expect(body).To(HaveKeyWithValue("connected", BeNumerically("==", 1)))
		Expect(body).To(HaveKeyWithValue("connecting", BeNumerically("==", 1)))
		Expect(body["sessions"]).To(HaveLen(2))
	})

	Context("GET /debug/:tenant", func() {
		It("returns the probe results", func() {
			svc.debug = session.DebugInfo{ChatCount: 4}

			rec, body := do(http.MethodGet, "/debug/acme", "", true)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["debug"]).To(HaveKeyWithValue("chatCount", BeNumerically("==", 4)))
		})

		It("answers 404 for unknown tenants", func() {
			svc.debugErr = session.ErrSessionNotFound

			rec, _ := do(http.MethodGet, "/debug/acme", "", true)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("answers 503 for a busy tenant", func() {
			svc.debugErr = context.DeadlineExceeded

			rec, _ := do(http.MethodGet, "/debug/acme", "", true)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	It("clears a session", func() {
		svc.clearRes = session.ClearResult{HadSession: true, TeardownPath: "graceful"}

		rec, body := do(http.MethodDelete, "/clear/acme", "", true)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(body["result"]).To(HaveKeyWithValue("tenant", "acme"))
		Expect(body["result"]).To(HaveKeyWithValue("teardownPath", "graceful"))
	})

	It("compresses responses for clients that accept gzip", func() {
		svc.summary = session.Summary{Sessions: make([]session.SessionSummary, 200)}

		req := httptest.NewRequest(http.MethodGet, "/companies", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept-Encoding", "gzip")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Encoding")).To(Equal("gzip"))
	})
})

var _ = Describe("Config", func() {
	It("requires a port and a token", func() {
		Expect(api.Config{}.Validate()).To(HaveOccurred())
		Expect(api.Config{Port: 8080}.Validate()).To(HaveOccurred())
		Expect(api.Config{Port: 8080, AuthToken: "x"}.Validate()).To(Succeed())
	})
})

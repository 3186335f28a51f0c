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

package assistant_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/chatgate/pkg/assistant"
)

func testAssistantConfig() assistant.Config {
	return assistant.Config{
		Enabled:     true,
		BaseURL:     "http://agent.local:2024",
		AssistantID: "agent-1",
		LoginURL:    "https://customer.example.com/api/login",
		AppToken:    "app-secret",
		Timeout:     2 * time.Second,
		ThreadTTL:   time.Hour,
		ResponseTTL: time.Minute,
	}
}

var _ = Describe("Client", func() {
	var (
		client *assistant.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		httpClient := assistant.NewHTTPClient(2 * time.Second)
		gock.InterceptClient(httpClient)
		client = assistant.NewClient(testAssistantConfig(), httpClient)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(gock.IsDone()).To(BeTrue())
		gock.OffAll()
	})

	Context("Login", func() {
		It("sends the app token and returns the customer token", func() {
			gock.New("https://customer.example.com").
				Post("/api/login").
				MatchHeader("Authorization", "^Bearer app-secret$").
				JSON(map[string]string{"phone": "5511999999999"}).
				Reply(200).
				JSON(map[string]string{"token": "cust-token"})

			token, err := client.Login(ctx, "5511999999999")
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("cust-token"))
		})

		It("maps 422 to ErrNotCustomer", func() {
			gock.New("https://customer.example.com").
				Post("/api/login").
				Reply(422).
				JSON(map[string]string{"message": "unknown number"})

			_, err := client.Login(ctx, "123")
			Expect(err).To(MatchError(assistant.ErrNotCustomer))
		})

		It("reports other statuses", func() {
			gock.New("https://customer.example.com").
				Post("/api/login").
				Reply(500).
				BodyString("boom")

			_, err := client.Login(ctx, "123")

			var statusErr *assistant.StatusError
			Expect(errors.As(err, &statusErr)).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(statusErr.Body).To(Equal("boom"))
		})
	})

	It("creates threads with metadata", func() {
		gock.New("http://agent.local:2024").
			Post("/threads").
			JSON(map[string]any{"metadata": map[string]string{"sessionId": "5511@c.us"}}).
			Reply(200).
			JSON(map[string]string{"thread_id": "t-1"})

		id, err := client.CreateThread(ctx, map[string]string{"sessionId": "5511@c.us"})
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("t-1"))
	})

	Context("RunWait", func() {
		It("returns the last message of the run", func() {
			gock.New("http://agent.local:2024").
				Post("/threads/t-1/runs/wait").
				JSON(map[string]any{
					"assistant_id": "agent-1",
					"input": map[string]any{
						"messages": []map[string]string{{"role": "user", "content": "oi", "token": "cust-token"}},
					},
				}).
				Reply(200).
				JSON(map[string]any{"messages": []map[string]string{
					{"role": "user", "content": "oi"},
					{"role": "assistant", "content": "Olá! Como posso ajudar?"},
				}})

			reply, err := client.RunWait(ctx, "t-1", "oi", "cust-token")
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(Equal("Olá! Como posso ajudar?"))
		})

		It("fails on an empty run", func() {
			gock.New("http://agent.local:2024").
				Post("/threads/t-1/runs/wait").
				Reply(200).
				JSON(map[string]any{"messages": []any{}})

			_, err := client.RunWait(ctx, "t-1", "oi", "")
			Expect(err).To(MatchError(assistant.ErrEmptyRun))
		})
	})
})

var _ = Describe("Config", func() {
	It("skips validation when disabled", func() {
		Expect(assistant.Config{}.Validate()).To(Succeed())
	})

	It("requires the endpoints when enabled", func() {
		err := assistant.Config{Enabled: true}.Validate()
		Expect(err).To(MatchError(ContainSubstring("baseUrl")))
		Expect(err).To(MatchError(ContainSubstring("loginUrl")))
	})

	It("accepts a complete config", func() {
		Expect(testAssistantConfig().Validate()).To(Succeed())
	})
})

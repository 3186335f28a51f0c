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

// Package assistant answers incoming chat messages with an AI agent. The
// agent runs behind a thread based HTTP API, access is granted per phone
// number by the customer's login endpoint.
package assistant

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/safejson"
)

// ErrNotCustomer is returned by Login when the number does not belong to a customer.
var ErrNotCustomer = errors.New("number is not a customer")

// ErrEmptyRun is returned by RunWait when the agent produced no message.
var ErrEmptyRun = errors.New("run returned no messages")

// StatusError is a non-2xx answer of the agent or login API.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s answered %d: %s", e.URL, e.StatusCode, e.Body)
}

// Config configures the agent API.
type Config struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"baseUrl"`
	AssistantID string        `yaml:"assistantId"`
	LoginURL    string        `yaml:"loginUrl"`
	AppToken    string        `yaml:"-"`
	Timeout     time.Duration `yaml:"timeout"`
	ThreadTTL   time.Duration `yaml:"threadTtl"`
	ResponseTTL time.Duration `yaml:"responseTtl"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("assistant.baseUrl is required"))
	}

	if c.AssistantID == "" {
		errs = append(errs, errors.New("assistant.assistantId is required"))
	}

	if c.LoginURL == "" {
		errs = append(errs, errors.New("assistant.loginUrl is required"))
	}

	if c.Timeout <= 0 || c.ThreadTTL <= 0 || c.ResponseTTL <= 0 {
		errs = append(errs, errors.New("assistant timeout and ttls must be positive"))
	}

	return errors.Join(errs...)
}

// Client talks to the agent and login APIs.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.SugaredLogger
}

// NewHTTPClient returns the client used for all agent calls. HTTP/2 is
// disabled, the agent server is a plain HTTP/1.1 deployment.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.For(logger.ComponentAssistant),
	}
}

type loginRequest struct {
	Phone string `json:"phone"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges the app token for a customer token of phone.
func (c *Client) Login(ctx context.Context, phone string) (string, error) {
	header := map[string]string{"Authorization": "Bearer " + c.cfg.AppToken}

	res, status, err := postJSON[loginResponse](ctx, c.http, c.cfg.LoginURL, header, loginRequest{Phone: phone})
	if status == http.StatusUnprocessableEntity {
		return "", ErrNotCustomer
	}

	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	return res.Token, nil
}

type threadRequest struct {
	Metadata map[string]string `json:"metadata"`
}

type threadResponse struct {
	ThreadID string `json:"thread_id"`
}

// CreateThread starts a conversation thread tagged with metadata.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]string) (string, error) {
	res, _, err := postJSON[threadResponse](ctx, c.http, c.url("/threads"), nil, threadRequest{Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	if res.ThreadID == "" {
		return "", errors.New("create thread: no thread id in response")
	}

	return res.ThreadID, nil
}

type runMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
	Token   string `json:"token,omitempty"`
}

type runInput struct {
	Messages []runMessage `json:"messages"`
}

type runRequest struct {
	AssistantID string   `json:"assistant_id"`
	Input       runInput `json:"input"`
}

type runResponse struct {
	Messages []runMessage `json:"messages"`
}

// RunWait runs the agent on thread with text as user input and returns
// the content of the last message of the run.
func (c *Client) RunWait(ctx context.Context, threadID, text, token string) (string, error) {
	req := runRequest{
		AssistantID: c.cfg.AssistantID,
		Input:       runInput{Messages: []runMessage{{Role: "user", Content: text, Token: token}}},
	}

	res, _, err := postJSON[runResponse](ctx, c.http, c.url("/threads/"+threadID+"/runs/wait"), nil, req)
	if err != nil {
		return "", fmt.Errorf("run on thread %s: %w", threadID, err)
	}

	if len(res.Messages) == 0 {
		return "", ErrEmptyRun
	}

	return res.Messages[len(res.Messages)-1].Content, nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// postJSON posts body as JSON and decodes a 2xx answer into R. The status
// code is returned whenever a response arrived.
func postJSON[R any](ctx context.Context, client *http.Client, url string, header map[string]string, body any) (*R, int, error) {
	payload, err := safejson.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	for k, v := range header {
		req.Header.Set(k, v)
	}

	response, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s: %w", url, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return nil, response.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, response.StatusCode, &StatusError{URL: url, StatusCode: response.StatusCode, Body: string(raw)}
	}

	var result R
	if len(raw) > 0 {
		if err := safejson.Unmarshal(raw, &result); err != nil {
			return nil, response.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}

	return &result, response.StatusCode, nil
}

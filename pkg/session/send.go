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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/backoff"
	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// SendErrorKind classifies a failed send.
type SendErrorKind string

const (
	SendNotReady           SendErrorKind = "not_ready"
	SendInvalidDestination SendErrorKind = "invalid_destination"
	SendConnectionLost     SendErrorKind = "connection_lost"
	SendKnownDefect        SendErrorKind = "known_defect"
	SendTimeout            SendErrorKind = "timeout"
	SendUnknown            SendErrorKind = "unknown"
)

// SendError is returned by SendMessage.
type SendError struct {
	Kind   SendErrorKind
	Tenant string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("send for %s failed: %s", e.Tenant, e.Kind)
	}

	return fmt.Sprintf("send for %s failed (%s): %v", e.Tenant, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// SendResult is the receipt of a sent message.
type SendResult struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
}

var invalidDestinationSignatures = []string{
	"invalid wid",
	"wid error",
	"not a valid",
	"no lid for user",
	"not registered",
	"chat not found",
}

// FormatChatID turns a phone number into a chat id. Numbers that already
// carry the chat suffix are used as they are.
func FormatChatID(number string) string {
	if strings.Contains(number, constants.ChatIDSuffix) {
		return number
	}

	var b strings.Builder

	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return ""
	}

	return b.String() + constants.ChatIDSuffix
}

func (m *Manager) classifySendError(err error) SendErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return SendTimeout
	case backoff.ContainsAny(err.Error(), m.cfg.KnownDefectSignatures):
		return SendKnownDefect
	case backoff.IsConnectivityBreak(err):
		return SendConnectionLost
	case backoff.ContainsAny(err.Error(), invalidDestinationSignatures):
		return SendInvalidDestination
	default:
		return SendUnknown
	}
}

// SendMessage sends body to number through the ready session of tenant.
// A failure matching a known client defect is retried once. A lost
// connection is fed into the state machine as a disconnect.
func (m *Manager) SendMessage(ctx context.Context, tenant, number, body string) (SendResult, error) {
	chatID := FormatChatID(number)
	if chatID == "" {
		metrics.RecordSend(string(SendInvalidDestination))

		return SendResult{}, &SendError{Kind: SendInvalidDestination, Tenant: tenant, Err: fmt.Errorf("no digits in %q", number)}
	}

	unlock, err := m.store.Lock(ctx, tenant)
	if err != nil {
		return SendResult{}, fmt.Errorf("acquire token of %s: %w", tenant, err)
	}

	s := m.store.Get(tenant)
	if s == nil || s.destroying || s.client == nil || s.machine.GetCurrentFSMState() != StateReady {
		unlock()
		metrics.RecordSend(string(SendNotReady))

		return SendResult{}, &SendError{Kind: SendNotReady, Tenant: tenant}
	}

	client, gen := s.client, s.generation
	s.ops.Add(1)
	unlock()

	res, kind, err := m.send(ctx, client, chatID, body)

	// the lease must be gone before a disconnect can trigger a destroy
	s.ops.Done()

	if err != nil {
		metrics.RecordSend(string(kind))

		if kind == SendConnectionLost {
			m.handleEvent(s, gen, chatclient.Disconnected(err.Error()))
		}

		return SendResult{}, &SendError{Kind: kind, Tenant: tenant, Err: err}
	}

	metrics.RecordSend("ok")

	return res, nil
}

func (m *Manager) send(ctx context.Context, client chatclient.Client, chatID, body string) (SendResult, SendErrorKind, error) {
	var (
		kind SendErrorKind
		err  error
	)

	for attempt := 1; attempt <= 2; attempt++ {
		var sent chatclient.SentMessage

		sent, err = callWithTimeout(ctx, m.cfg.SendTimeout, func(cctx context.Context) (chatclient.SentMessage, error) {
			return client.SendMessage(cctx, chatID, body)
		})
		if err == nil {
			if sent.ChatID == "" {
				sent.ChatID = chatID
			}

			if sent.Timestamp.IsZero() {
				sent.Timestamp = m.now()
			}

			return SendResult{MessageID: sent.ID, ChatID: sent.ChatID, Timestamp: sent.Timestamp, Attempts: attempt}, "", nil
		}

		kind = m.classifySendError(err)
		if kind != SendKnownDefect {
			break
		}

		m.logger.Warnf("Send to %s hit a known client defect, retrying once: %v", chatID, err)
	}

	return SendResult{}, kind, err
}

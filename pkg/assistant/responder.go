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

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
	"github.com/united-manufacturing-hub/chatgate/pkg/session"
)

// Sender delivers a reply. The session manager implements it.
type Sender interface {
	SendMessage(ctx context.Context, tenant, number, body string) (session.SendResult, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, tenant, number, body string) (session.SendResult, error)

func (f SenderFunc) SendMessage(ctx context.Context, tenant, number, body string) (session.SendResult, error) {
	return f(ctx, tenant, number, body)
}

// Agent is the subset of Client the responder needs.
type Agent interface {
	Login(ctx context.Context, phone string) (string, error)
	CreateThread(ctx context.Context, metadata map[string]string) (string, error)
	RunWait(ctx context.Context, threadID, text, token string) (string, error)
}

// conversation is the agent thread of one chat.
type conversation struct {
	threadID string
	token    string
}

// Responder answers direct messages through the agent.
type Responder struct {
	agent   Agent
	sender  Sender
	timeout time.Duration
	logger  *zap.SugaredLogger

	// conversations is keyed by tenant|chat. A nil entry marks a number
	// that is not a customer, so the login is not repeated for every message.
	conversations *expiremap.ExpireMap[string, *conversation]
	// seen holds hashes of recently answered messages.
	seen *expiremap.ExpireMap[uint64, time.Time]

	group singleflight.Group
}

func NewResponder(agent Agent, sender Sender, cfg Config) *Responder {
	return &Responder{
		agent:         agent,
		sender:        sender,
		timeout:       cfg.Timeout,
		logger:        logger.For(logger.ComponentAssistant),
		conversations: expiremap.NewEx[string, *conversation](cfg.ThreadTTL, cfg.ThreadTTL),
		seen:          expiremap.NewEx[uint64, time.Time](cfg.ResponseTTL, cfg.ResponseTTL),
	}
}

// Handler adapts the responder to the session manager's message hook.
func (r *Responder) Handler() session.MessageHandler {
	return func(ctx context.Context, tenant string, msg chatclient.IncomingMessage) {
		if err := r.Handle(ctx, tenant, msg); err != nil {
			r.logger.Warnf("Answering %s for %s failed: %v", msg.From, tenant, err)
		}
	}
}

func ignored(msg chatclient.IncomingMessage) bool {
	return msg.FromMe || msg.IsGroup || msg.IsStatus ||
		strings.TrimSpace(msg.Body) == "" ||
		strings.HasSuffix(msg.From, "@g.us") ||
		strings.HasSuffix(msg.From, "@broadcast")
}

func messageKey(tenant string, msg chatclient.IncomingMessage) uint64 {
	return xxhash.Sum64String(tenant + "|" + msg.From + "|" + msg.Body)
}

// Handle answers msg unless it is a group, status or own message, or the
// same text from the same chat was answered within the response TTL.
func (r *Responder) Handle(ctx context.Context, tenant string, msg chatclient.IncomingMessage) error {
	if ignored(msg) {
		metrics.RecordAssistantReply("ignored")

		return nil
	}

	key := messageKey(tenant, msg)
	if _, dup := r.seen.Load(key); dup {
		metrics.RecordAssistantReply("duplicate")

		return nil
	}

	r.seen.Set(key, time.Now())

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conv, err := r.conversation(ctx, tenant, msg.From)
	if errors.Is(err, ErrNotCustomer) {
		metrics.RecordAssistantReply("not_customer")
		r.logger.Infof("%s is not a customer of %s, not answering", msg.From, tenant)

		return nil
	}

	if err != nil {
		metrics.RecordAssistantReply("failed")
		metrics.IncErrorCount(metrics.ComponentAssistant, tenant)

		return err
	}

	reply, err := r.agent.RunWait(ctx, conv.threadID, msg.Body, conv.token)
	if err != nil {
		metrics.RecordAssistantReply("failed")
		metrics.IncErrorCount(metrics.ComponentAssistant, tenant)

		return err
	}

	if strings.TrimSpace(reply) == "" {
		metrics.RecordAssistantReply("ignored")

		return nil
	}

	if _, err := r.sender.SendMessage(ctx, tenant, msg.From, reply); err != nil {
		metrics.RecordAssistantReply("failed")
		metrics.IncErrorCount(metrics.ComponentAssistant, tenant)

		return fmt.Errorf("send reply: %w", err)
	}

	metrics.RecordAssistantReply("replied")

	return nil
}

// conversation returns the cached thread of chat or logs in and opens a new
// one. Concurrent messages of one chat share a single login.
func (r *Responder) conversation(ctx context.Context, tenant, chat string) (*conversation, error) {
	key := tenant + "|" + chat

	if conv, ok := r.conversations.Load(key); ok {
		if *conv == nil {
			return nil, ErrNotCustomer
		}

		return *conv, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		token, err := r.agent.Login(ctx, phoneOf(chat))
		if errors.Is(err, ErrNotCustomer) {
			r.conversations.Set(key, nil)

			return nil, err
		}

		if err != nil {
			return nil, err
		}

		threadID, err := r.agent.CreateThread(ctx, map[string]string{"sessionId": chat, "tenant": tenant})
		if err != nil {
			return nil, err
		}

		conv := &conversation{threadID: threadID, token: token}
		r.conversations.Set(key, conv)

		return conv, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*conversation), nil
}

// phoneOf strips the chat suffix from a chat id.
func phoneOf(chat string) string {
	if i := strings.IndexByte(chat, '@'); i >= 0 {
		return chat[:i]
	}

	return chat
}

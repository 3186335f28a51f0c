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

// Package chatclient defines the connection client a session owns: the
// process that automates the chat network's web client for one tenant.
package chatclient

import (
	"context"
	"time"
)

// Client is one tenant's connection to the chat network. A Client is owned
// by exactly one session and must not be used after Destroy was called.
// Every method taking a context must return once the context is done.
type Client interface {
	// Initialize launches the client. Pairing codes and readiness arrive later as events.
	Initialize(ctx context.Context) error

	// Events delivers lifecycle events in order. The channel is closed when
	// the client has shut down.
	Events() <-chan Event

	// GetConnectivityState asks the client for its connection state. An
	// empty state means the client did not know.
	GetConnectivityState(ctx context.Context) (ConnectivityState, error)

	// GetSelfInfo returns the paired account, it fails while the account data is not loaded.
	GetSelfInfo(ctx context.Context) (SelfInfo, error)

	ListChats(ctx context.Context) ([]Chat, error)

	SendMessage(ctx context.Context, chatID string, body string) (SentMessage, error)

	// Logout unpairs the device on the network side.
	Logout(ctx context.Context) error

	// Destroy shuts the client down gracefully.
	Destroy(ctx context.Context) error

	// ProcessID returns the pid of the process backing the client, 0 if unknown.
	ProcessID() int

	// IsClosed reports whether the execution surface (browser page or process) is gone.
	IsClosed() bool
}

// Factory creates a fresh client for a tenant. It must not start the client.
type Factory func(tenant string) (Client, error)

// SelfInfo describes the paired account.
type SelfInfo struct {
	ID       string `json:"id"`
	Pushname string `json:"pushname,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Chat is a conversation known to the client.
type Chat struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	IsGroup     bool   `json:"isGroup,omitempty"`
	UnreadCount int    `json:"unreadCount,omitempty"`
}

// SentMessage is the client's receipt for an outgoing message.
type SentMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

// IncomingMessage is a message received by the client.
type IncomingMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"fromMe,omitempty"`
	IsGroup   bool      `json:"isGroup,omitempty"`
	IsStatus  bool      `json:"isStatus,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

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

// Package session manages one chat network connection per tenant: the
// session record and its state machine, status inference, reconnection,
// the destroy protocol and the zombie session monitor.
package session

import (
	"errors"
	"time"
)

// Connection states.
const (
	StateUninitialized        = "uninitialized"
	StateConnecting           = "connecting"
	StateQRPending            = "qr_pending"
	StateAuthenticatedSyncing = "authenticated_syncing"
	StateReady                = "ready"
	StateDisconnected         = "disconnected"
	StateReconnecting         = "reconnecting"
	StateDestroying           = "destroying"
)

// State machine events.
const (
	EventConnect       = "connect"
	EventQR            = "qr"
	EventAuthenticated = "authenticated"
	EventReady         = "ready"
	EventDisconnect    = "disconnect"
	EventReconnect     = "reconnect"
	EventDestroy       = "destroy"
)

var (
	// ErrNotReadyYet is returned when a new session produced neither a pairing
	// code nor readiness within the status wait window. Callers should retry.
	ErrNotReadyYet = errors.New("session is still starting, retry shortly")

	// ErrSessionNotFound is returned by operations that never create a session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionDestroying is returned while a session is being torn down.
	ErrSessionDestroying = errors.New("session is being destroyed")

	// ErrSessionBusy is returned when the tenant token stayed taken for the
	// whole lock timeout. Callers should retry.
	ErrSessionBusy = errors.New("session is busy, retry shortly")
)

// StatusKind is the caller facing summary of a session.
type StatusKind string

const (
	StatusReady        StatusKind = "READY"
	StatusSyncing      StatusKind = "SYNCING"
	StatusQRRequired   StatusKind = "QR_REQUIRED"
	StatusNotConnected StatusKind = "NOT_CONNECTED"
)

// Status is the answer of GetStatus and CheckConnectionStatus.
type Status struct {
	Kind        StatusKind    `json:"status"`
	State       string        `json:"state"`
	PairingCode string        `json:"qrCode,omitempty"`
	Progress    int           `json:"progress,omitempty"`
	SyncMessage string        `json:"syncMessage,omitempty"`
	SyncElapsed time.Duration `json:"syncElapsed,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Retryable   bool          `json:"retryable,omitempty"`
	// ForcedBy names the inference rule that promoted the session, if any.
	ForcedBy string `json:"forcedBy,omitempty"`
	SelfID   string `json:"selfId,omitempty"`
}

func notConnected(state, reason string) Status {
	return Status{Kind: StatusNotConnected, State: state, Reason: reason, Retryable: true}
}

// Info is the observable part of a session. Snapshots hand out deep copies of it.
type Info struct {
	TenantID    string
	State       string
	PairingCode string

	SyncProgressPercent int
	SyncStatusMessage   string

	CreatedAt         time.Time
	AuthenticatedAt   time.Time
	ReadyAt           time.Time
	LastStateChangeAt time.Time
	LastDisconnectAt  time.Time

	LastDisconnectReason string

	ReconnectAttempts        int
	ConsecutiveProbeFailures int

	SelfID        string
	ForcedReadyBy string

	ReconnectPending bool
	Destroying       bool
	Generation       uint64
	ProcessID        int
}

// Authenticated reports whether the session got past pairing at least once
// in its current connection.
func (i Info) Authenticated() bool {
	switch i.State {
	case StateAuthenticatedSyncing, StateReady:
		return true
	default:
		return false
	}
}

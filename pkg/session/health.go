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
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// SessionSummary is one line of ListSessions.
type SessionSummary struct {
	Tenant                   string        `json:"tenant"`
	State                    string        `json:"state"`
	Ready                    bool          `json:"ready"`
	Authenticated            bool          `json:"authenticated"`
	Connecting               bool          `json:"connecting"`
	HasPairingCode           bool          `json:"hasQrCode"`
	Progress                 int           `json:"syncProgress"`
	SyncMessage              string        `json:"syncMessage,omitempty"`
	ReconnectAttempts        int           `json:"reconnectAttempts"`
	ConsecutiveProbeFailures int           `json:"consecutiveFailures"`
	SinceAuthenticated       time.Duration `json:"sinceAuthenticated,omitempty"`
	SinceReady               time.Duration `json:"sinceReady,omitempty"`
	SinceStateChange         time.Duration `json:"sinceStateChange"`
	SinceDisconnect          time.Duration `json:"sinceDisconnect,omitempty"`
	LastDisconnectReason     string        `json:"lastDisconnectReason,omitempty"`
}

// Totals counts sessions per bucket.
type Totals struct {
	Total        int `json:"total"`
	Ready        int `json:"ready"`
	Syncing      int `json:"syncing"`
	SyncingSlow  int `json:"syncingSlow"`
	SyncingLong  int `json:"syncingLong"`
	QRPending    int `json:"qrPending"`
	Disconnected int `json:"disconnected"`
	Reconnecting int `json:"reconnecting"`
}

type Summary struct {
	Sessions []SessionSummary `json:"sessions"`
	Totals   Totals           `json:"totals"`
}

func since(now, t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}

	return now.Sub(t)
}

// ListSessions summarizes every session from snapshots, without tokens.
func (m *Manager) ListSessions() Summary {
	now := m.now()
	out := Summary{Sessions: []SessionSummary{}}

	for _, s := range m.store.List() {
		info := s.Snapshot()

		sum := SessionSummary{
			Tenant:                   info.TenantID,
			State:                    info.State,
			Ready:                    info.State == StateReady,
			Authenticated:            info.Authenticated(),
			Connecting:               info.State == StateConnecting || info.State == StateReconnecting,
			HasPairingCode:           info.PairingCode != "",
			Progress:                 info.SyncProgressPercent,
			SyncMessage:              info.SyncStatusMessage,
			ReconnectAttempts:        info.ReconnectAttempts,
			ConsecutiveProbeFailures: info.ConsecutiveProbeFailures,
			SinceAuthenticated:       since(now, info.AuthenticatedAt),
			SinceReady:               since(now, info.ReadyAt),
			SinceStateChange:         since(now, info.LastStateChangeAt),
			SinceDisconnect:          since(now, info.LastDisconnectAt),
			LastDisconnectReason:     info.LastDisconnectReason,
		}

		out.Sessions = append(out.Sessions, sum)
		out.Totals.Total++

		switch info.State {
		case StateReady:
			out.Totals.Ready++
		case StateAuthenticatedSyncing:
			out.Totals.Syncing++

			switch elapsed := sum.SinceAuthenticated; {
			case elapsed > constants.SyncingLongAfter:
				out.Totals.SyncingLong++
			case elapsed > constants.SyncingSlowAfter:
				out.Totals.SyncingSlow++
			}
		case StateQRPending:
			out.Totals.QRPending++
		case StateDisconnected:
			out.Totals.Disconnected++
		case StateReconnecting:
			out.Totals.Reconnecting++
		}
	}

	return out
}

// DebugInfo is a detailed view of one session including live probes.
type DebugInfo struct {
	Info              Info                         `json:"session"`
	ConnectivityState chatclient.ConnectivityState `json:"connectivityState,omitempty"`
	StateError        string                       `json:"stateError,omitempty"`
	SelfInfo          *chatclient.SelfInfo         `json:"selfInfo,omitempty"`
	SelfInfoError     string                       `json:"selfInfoError,omitempty"`
	ChatCount         int                          `json:"chatCount"`
	ChatsError        string                       `json:"chatsError,omitempty"`
	PermanentReasons  []string                     `json:"permanentReasons"`
}

// Debug probes the client of tenant. Probe failures are reported in the
// result, not as an error.
func (m *Manager) Debug(ctx context.Context, tenant string) (DebugInfo, error) {
	lctx, cancel := context.WithTimeout(ctx, m.cfg.LockTimeout)
	unlock, err := m.store.Lock(lctx, tenant)
	cancel()

	if err != nil {
		return DebugInfo{}, err
	}
	defer unlock()

	s := m.store.Get(tenant)
	if s == nil {
		return DebugInfo{}, ErrSessionNotFound
	}

	out := DebugInfo{Info: s.Snapshot(), PermanentReasons: m.classifier.PermanentReasons()}

	client := s.client
	if client == nil {
		out.StateError = errDetached.Error()

		return out, nil
	}

	if state, err := callWithTimeout(ctx, m.cfg.LivenessProbeTimeout, client.GetConnectivityState); err != nil {
		out.StateError = err.Error()
	} else {
		out.ConnectivityState = state
	}

	if info, err := callWithTimeout(ctx, m.cfg.SelfInfoProbeTimeout, client.GetSelfInfo); err != nil {
		out.SelfInfoError = err.Error()
	} else {
		out.SelfInfo = &info
	}

	if chats, err := callWithTimeout(ctx, m.cfg.ListChatsTimeout, client.ListChats); err != nil {
		out.ChatsError = err.Error()
	} else {
		out.ChatCount = len(chats)
	}

	return out, nil
}

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

package constants

import "time"

// Probe and adapter operation timeouts. Every call into a chat client is bounded by one of these.
const (
	// LivenessProbeTimeout bounds the connectivity state query used to trust a ready session.
	LivenessProbeTimeout = time.Second * 10
	// SelfInfoProbeTimeout bounds the self-info query used while a session is syncing.
	SelfInfoProbeTimeout = time.Second * 8
	// ListChatsTimeout is only used by the debug view.
	ListChatsTimeout = time.Second * 15

	InitializeTimeout = time.Second * 60
	DestroyTimeout    = time.Second * 10
	LogoutTimeout     = time.Second * 10
	SendTimeout       = time.Second * 60

	// LockTimeout bounds how long a cheap status check waits for a busy tenant.
	LockTimeout = time.Second * 3
)

const (
	// StatusWaitTimeout is how long a status request for a new session waits for a pairing code or readiness.
	StatusWaitTimeout = time.Second * 15

	// ForceReadyAfter is the time since authentication after which a fully loaded session is promoted.
	ForceReadyAfter = time.Minute * 5

	// ProbeFailureThreshold is the number of liveness probe failures in a row that demote a ready session.
	ProbeFailureThreshold = 2

	// LoadingCompleteConfirmDelay and BatteryConfirmDelay delay the readiness confirmation
	// triggered by the respective client events.
	LoadingCompleteConfirmDelay = time.Second * 3
	BatteryConfirmDelay         = time.Second * 2

	// SyncingSlowAfter and SyncingLongAfter bucket syncing sessions in the session listing.
	SyncingSlowAfter = time.Minute * 5
	SyncingLongAfter = time.Minute * 10

	// DefaultAuthDir holds one credential directory per tenant, named session-<tenant>.
	DefaultAuthDir = ".wwebjs_auth"
)

// ChatIDSuffix is appended to bare phone numbers to address a private chat.
const ChatIDSuffix = "@c.us"

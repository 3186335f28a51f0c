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

package chatclient

import "strings"

// ConnectivityState is the connection state reported by the web client.
type ConnectivityState string

const (
	StateConflict          ConnectivityState = "CONFLICT"
	StateConnected         ConnectivityState = "CONNECTED"
	StateDeprecatedVersion ConnectivityState = "DEPRECATED_VERSION"
	StateOpening           ConnectivityState = "OPENING"
	StatePairing           ConnectivityState = "PAIRING"
	StateProxyBlock        ConnectivityState = "PROXYBLOCK"
	StateSMBTosBlock       ConnectivityState = "SMB_TOS_BLOCK"
	StateTimeout           ConnectivityState = "TIMEOUT"
	StateTosBlock          ConnectivityState = "TOS_BLOCK"
	StateUnlaunched        ConnectivityState = "UNLAUNCHED"
	StateUnpaired          ConnectivityState = "UNPAIRED"
	StateUnpairedIdle      ConnectivityState = "UNPAIRED_IDLE"
	StateDisconnected      ConnectivityState = "DISCONNECTED"
)

// Normalize upper-cases the state, clients are not consistent about it.
func (s ConnectivityState) Normalize() ConnectivityState {
	return ConnectivityState(strings.ToUpper(strings.TrimSpace(string(s))))
}

// IsConnected is true for states in which the network link is up or coming up.
func (s ConnectivityState) IsConnected() bool {
	switch s.Normalize() {
	case StateConnected, StatePairing, StateOpening:
		return true
	default:
		return false
	}
}

// IsDisconnected is true for states that definitely mean the link is down.
// Unknown and empty states are neither connected nor disconnected.
func (s ConnectivityState) IsDisconnected() bool {
	switch s.Normalize() {
	case StateDisconnected, StateUnlaunched, StateUnpaired, StateUnpairedIdle:
		return true
	default:
		return false
	}
}

// IsBlocked is true for states the network uses to reject the account or client.
func (s ConnectivityState) IsBlocked() bool {
	switch s.Normalize() {
	case StateTosBlock, StateSMBTosBlock, StateDeprecatedVersion, StateProxyBlock:
		return true
	default:
		return false
	}
}

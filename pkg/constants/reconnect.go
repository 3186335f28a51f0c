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

const (
	ReconnectInitialDelay = time.Second * 5
	ReconnectMultiplier   = 2.0
	ReconnectMaxDelay     = time.Second * 20
	ReconnectMaxAttempts  = 3

	// ReconnectGraceWindow is how long a fresh client gets to become ready before the attempt counts as failed.
	ReconnectGraceWindow = time.Second * 15
)

// DefaultPermanentDisconnectReasons never trigger a reconnect. Comparison is case-insensitive.
var DefaultPermanentDisconnectReasons = []string{
	"LOGOUT",
	"UNPAIRED",
	"TOS_BLOCK",
	"SMB_TOS_BLOCK",
	"DEPRECATED_VERSION",
	"AUTH_FAILURE",
}

// DefaultKnownDefectSignatures are transient client error messages after which a send is retried once.
var DefaultKnownDefectSignatures = []string{
	"Cannot read properties of undefined (reading 'serialize')",
	"Evaluation failed: Error: getChat",
	"getMessageModel",
	"Execution context was destroyed",
}

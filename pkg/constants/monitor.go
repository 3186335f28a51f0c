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
	MonitorInterval = time.Second * 60

	// StaleDisconnectAfter evicts sessions that stay disconnected without a scheduled reconnect.
	StaleDisconnectAfter = time.Minute * 10

	// MonitorConcurrency limits how many tenants a sweep probes at the same time.
	MonitorConcurrency = 8

	// ProcessTerminateGrace is the time between SIGTERM and SIGKILL when force terminating.
	ProcessTerminateGrace = time.Second * 2
)

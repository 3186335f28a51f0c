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

// Package process force-terminates the OS processes behind a chat client.
// It is the last resort of the destroy protocol, after a graceful shutdown
// timed out or failed.
package process

import "context"

// Terminator is the force-terminate capability used by the destroy protocol.
type Terminator interface {
	// Terminate stops the process group led by pid: SIGTERM, a short grace
	// period, then SIGKILL. A process that is already gone is not an error.
	Terminate(ctx context.Context, pid int) error

	// TerminateByTag kills every process whose command line carries tag as
	// a whole path token (see CmdlineHasTag), for example the tenant's
	// session directory. It returns how many
	// processes were killed.
	TerminateByTag(ctx context.Context, tag string) (int, error)

	// IsRunning reports whether pid is alive and not a zombie.
	IsRunning(ctx context.Context, pid int) (bool, error)
}

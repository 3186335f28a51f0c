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

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
)

const pollInterval = 100 * time.Millisecond

// DefaultTerminator implements Terminator with process group signals and a
// gopsutil based process search.
type DefaultTerminator struct {
	logger *zap.SugaredLogger
	grace  time.Duration
	self   int32
}

// NewDefaultTerminator creates a terminator that waits grace between SIGTERM and SIGKILL.
func NewDefaultTerminator(grace time.Duration) *DefaultTerminator {
	if grace <= 0 {
		grace = constants.ProcessTerminateGrace
	}

	return &DefaultTerminator{
		logger: logger.For(logger.ComponentProcess),
		grace:  grace,
		self:   int32(os.Getpid()),
	}
}

// signalGroup signals the process group of pid and falls back to the single
// process when pid does not lead a group.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}

	if errors.Is(err, unix.ESRCH) {
		return nil
	}

	return err
}

func (t *DefaultTerminator) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		t.logger.Warnf("Sending SIGTERM to %d failed, trying SIGKILL: %v", pid, err)

		return t.kill(pid)
	}

	graceCtx, cancel := context.WithTimeout(ctx, t.grace)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		running, err := t.IsRunning(graceCtx, pid)
		if err == nil && !running {
			t.logger.Debugf("Process %d exited after SIGTERM", pid)

			return nil
		}

		select {
		case <-graceCtx.Done():
			t.logger.Infof("Process %d still running after %s, sending SIGKILL", pid, t.grace)

			return t.kill(pid)
		case <-ticker.C:
		}
	}
}

func (t *DefaultTerminator) kill(pid int) error {
	if err := signalGroup(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}

	return nil
}

// CmdlineHasTag reports whether tag appears in cmdline as a whole path
// token. The tag must start an argument or follow an "=" and end at the end
// of an argument or at a path separator, so /auth/session-acme matches
// --user-data-dir=/auth/session-acme/Default but not /auth/session-acme2.
func CmdlineHasTag(cmdline, tag string) bool {
	for from := 0; ; {
		i := strings.Index(cmdline[from:], tag)
		if i < 0 {
			return false
		}

		start, end := from+i, from+i+len(tag)
		if tagBoundary(cmdline, start-1, " =\"'") && tagBoundary(cmdline, end, " /\"',") {
			return true
		}

		from = start + 1
	}
}

// tagBoundary is true when i is outside cmdline or points at one of chars.
func tagBoundary(cmdline string, i int, chars string) bool {
	if i < 0 || i >= len(cmdline) {
		return true
	}

	return strings.IndexByte(chars, cmdline[i]) >= 0
}

func (t *DefaultTerminator) TerminateByTag(ctx context.Context, tag string) (int, error) {
	if strings.TrimSpace(tag) == "" {
		return 0, errors.New("empty process tag")
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	killed := 0

	var errs []error

	for _, p := range procs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())

			break
		}

		if p.Pid == t.self {
			continue
		}

		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !CmdlineHasTag(cmdline, tag) {
			// processes exit while we iterate, their cmdline is gone
			continue
		}

		if err := p.KillWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", p.Pid, err))

			continue
		}

		killed++

		t.logger.Infof("Killed orphaned process %d matching %q", p.Pid, tag)
	}

	return killed, errors.Join(errs...)
}

func (t *DefaultTerminator) IsRunning(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false, err
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return false, nil
		}

		return false, err
	}

	statuses, err := p.StatusWithContext(ctx)
	if err != nil {
		// status is best effort, existence already confirmed
		return true, nil //nolint:nilerr
	}

	return !slices.Contains(statuses, process.Zombie), nil
}

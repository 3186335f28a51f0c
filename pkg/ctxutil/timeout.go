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

package ctxutil

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoDeadline indicates the context doesn't have a deadline.
	ErrNoDeadline = errors.New("context has no deadline")

	// ErrInsufficientTime indicates not enough time remains before deadline.
	ErrInsufficientTime = errors.New("insufficient time remaining before deadline")
)

// HasSufficientTime checks if ctx has at least requiredTime left before its deadline.
// A context without deadline reports ErrNoDeadline.
func HasSufficientTime(ctx context.Context, requiredTime time.Duration) (remaining time.Duration, sufficient bool, err error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false, ErrNoDeadline
	}

	remaining = time.Until(deadline)
	if remaining < requiredTime {
		return remaining, false, nil
	}

	return remaining, true, nil
}

// WithBoundedTimeout derives a context that expires after timeout, or earlier
// when the parent deadline is closer. Every call into an external client
// goes through this so no wait is unbounded.
func WithBoundedTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, timeout)
}

// Detached returns a context that keeps the values of parent but is never
// cancelled by it. Used for cleanup that must run to completion after the
// triggering request has gone away.
func Detached(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

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

package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
)

// DefaultService runs every operation in its own goroutine so a hanging
// mount (for example a network volume holding the credential directories)
// cannot block the caller past its context.
type DefaultService struct{}

// NewDefaultService creates a new DefaultService.
func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

// run executes fn and returns early with ctx.Err() when the context is done first.
func run[T any](ctx context.Context, op string, path string, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}

	resCh := make(chan result, 1)

	go func() {
		v, err := fn()
		resCh <- result{value: v, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			metrics.IncErrorCount(metrics.ComponentFilesystem, op)

			return zero, fmt.Errorf("%s %s: %w", op, path, res.err)
		}

		return res.value, nil
	case <-ctx.Done():
		metrics.IncErrorCount(metrics.ComponentFilesystem, op)

		return zero, ctx.Err()
	}
}

// EnsureDirectory creates a directory if it doesn't exist.
func (s *DefaultService) EnsureDirectory(ctx context.Context, path string) error {
	_, err := run(ctx, "EnsureDirectory", path, func() (struct{}, error) {
		return struct{}{}, os.MkdirAll(path, 0o755)
	})

	return err
}

// ReadFile reads a file's contents respecting the context.
func (s *DefaultService) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return run(ctx, "ReadFile", path, func() ([]byte, error) {
		return os.ReadFile(path)
	})
}

// PathExists checks if a file or directory exists at the given path.
func (s *DefaultService) PathExists(ctx context.Context, path string) (bool, error) {
	return run(ctx, "PathExists", path, func() (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}

		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	})
}

// RemoveAll removes a path and all its contents.
func (s *DefaultService) RemoveAll(ctx context.Context, path string) error {
	start := time.Now()

	_, err := run(ctx, "RemoveAll", path, func() (struct{}, error) {
		return struct{}{}, os.RemoveAll(path)
	})
	if err == nil && time.Since(start) > time.Second {
		// chromium profiles can hold tens of thousands of cache files
		logger.For(logger.ComponentFilesystem).Infof("Removing %s took %s", path, time.Since(start))
	}

	return err
}

// ReadDir reads a directory, returning all its directory entries.
func (s *DefaultService) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	return run(ctx, "ReadDir", path, func() ([]os.DirEntry, error) {
		return os.ReadDir(path)
	})
}

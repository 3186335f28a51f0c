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
	"sync"
)

// MockTerminator records calls and returns scripted results.
type MockTerminator struct {
	TerminateFunc      func(ctx context.Context, pid int) error
	TerminateByTagFunc func(ctx context.Context, tag string) (int, error)
	IsRunningFunc      func(ctx context.Context, pid int) (bool, error)

	mu         sync.Mutex
	terminated []int
	tags       []string
}

func NewMockTerminator() *MockTerminator {
	return &MockTerminator{}
}

func (m *MockTerminator) Terminate(ctx context.Context, pid int) error {
	m.mu.Lock()
	m.terminated = append(m.terminated, pid)
	m.mu.Unlock()

	if m.TerminateFunc != nil {
		return m.TerminateFunc(ctx, pid)
	}

	return nil
}

func (m *MockTerminator) TerminateByTag(ctx context.Context, tag string) (int, error) {
	m.mu.Lock()
	m.tags = append(m.tags, tag)
	m.mu.Unlock()

	if m.TerminateByTagFunc != nil {
		return m.TerminateByTagFunc(ctx, tag)
	}

	return 0, nil
}

func (m *MockTerminator) IsRunning(ctx context.Context, pid int) (bool, error) {
	if m.IsRunningFunc != nil {
		return m.IsRunningFunc(ctx, pid)
	}

	return pid > 0, nil
}

// Terminated returns the pids passed to Terminate.
func (m *MockTerminator) Terminated() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]int(nil), m.terminated...)
}

// Tags returns the tags passed to TerminateByTag.
func (m *MockTerminator) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.tags...)
}

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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockFileSystem is an in-memory implementation of the filesystem.Service interface.
// Directories are implicit: a path is a directory when some file lives below it
// or it was created with EnsureDirectory.
type MockFileSystem struct {
	ReadFileFunc  func(ctx context.Context, path string) ([]byte, error)
	RemoveAllFunc func(ctx context.Context, path string) error

	files   map[string][]byte
	dirs    map[string]bool
	removed []string
	mutex   sync.Mutex
}

// NewMockFileSystem creates a new MockFileSystem instance
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// WithFile adds a file, creating its parent directories.
func (m *MockFileSystem) WithFile(path string, data []byte) *MockFileSystem {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	path = filepath.Clean(path)
	m.files[path] = data

	for dir := filepath.Dir(path); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
		m.dirs[dir] = true
	}

	return m
}

// WithDirectory adds an empty directory.
func (m *MockFileSystem) WithDirectory(path string) *MockFileSystem {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.dirs[filepath.Clean(path)] = true

	return m
}

// Removed returns every path passed to RemoveAll, in call order.
func (m *MockFileSystem) Removed() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return append([]string(nil), m.removed...)
}

func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.WithDirectory(path)

	return nil
}

func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.files[filepath.Clean(path)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}

	return append([]byte(nil), data...), nil
}

func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	path = filepath.Clean(path)
	_, isFile := m.files[path]

	return isFile || m.dirs[path], nil
}

func (m *MockFileSystem) RemoveAll(ctx context.Context, path string) error {
	if m.RemoveAllFunc != nil {
		return m.RemoveAllFunc(ctx, path)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	path = filepath.Clean(path)
	m.removed = append(m.removed, path)
	prefix := path + string(filepath.Separator)

	for p := range m.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}

	for d := range m.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
		}
	}

	return nil
}

func (m *MockFileSystem) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	path = filepath.Clean(path)
	if !m.dirs[path] {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}

	children := make(map[string]bool)

	for p := range m.files {
		if filepath.Dir(p) == path {
			children[filepath.Base(p)] = false
		}
	}

	for d := range m.dirs {
		if filepath.Dir(d) == path {
			children[filepath.Base(d)] = true
		}
	}

	entries := make([]os.DirEntry, 0, len(children))
	for name, isDir := range children {
		entries = append(entries, mockDirEntry{name: name, dir: isDir})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	return entries, nil
}

type mockDirEntry struct {
	name string
	dir  bool
}

func (e mockDirEntry) Name() string { return e.name }
func (e mockDirEntry) IsDir() bool  { return e.dir }

func (e mockDirEntry) Type() fs.FileMode {
	if e.dir {
		return fs.ModeDir
	}

	return 0
}

func (e mockDirEntry) Info() (fs.FileInfo, error) {
	return mockFileInfo(e), nil
}

type mockFileInfo mockDirEntry

func (i mockFileInfo) Name() string       { return i.name }
func (i mockFileInfo) Size() int64        { return 0 }
func (i mockFileInfo) ModTime() time.Time { return time.Time{} }
func (i mockFileInfo) IsDir() bool        { return i.dir }
func (i mockFileInfo) Sys() any           { return nil }

func (i mockFileInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}

	return 0o644
}

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

package backoff

import "errors"

// ErrorCategory tells the reconnect engine what to do with a failure.
type ErrorCategory int

const (
	// CategoryIgnored errors are logged and otherwise dropped.
	CategoryIgnored ErrorCategory = iota

	// CategoryTransient errors lead to a scheduled reconnect with backoff.
	CategoryTransient

	// CategoryPermanent errors destroy the session without any retry. The
	// tenant has to pair again.
	CategoryPermanent
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryIgnored:
		return "ignored"
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// NewIgnoredError wraps err as CategoryIgnored.
func NewIgnoredError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryIgnored}
}

// NewTransientError wraps err as CategoryTransient.
func NewTransientError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentError wraps err as CategoryPermanent.
func NewPermanentError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// CategoryOf returns the category of err. Uncategorized errors count as transient.
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	return CategoryTransient
}

// IsIgnoredError is a convenience checker for CategoryIgnored.
func IsIgnoredError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryIgnored
}

// IsTransientError is a convenience checker for CategoryTransient.
func IsTransientError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryTransient
}

// IsPermanentError is a convenience checker for CategoryPermanent.
func IsPermanentError(err error) bool {
	return err != nil && CategoryOf(err) == CategoryPermanent
}

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

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDisconnected is wrapped by every classified disconnect.
var ErrDisconnected = errors.New("client disconnected")

// connectivityBreakSignatures are client error messages that mean the
// browser session underneath is gone.
var connectivityBreakSignatures = []string{
	"session closed",
	"target closed",
	"protocol error",
	"page has been closed",
	"browser has disconnected",
	"net::err_",
	"navigation failed because browser has disconnected",
	"connection closed",
}

// DisconnectClassifier decides whether a disconnect reason is worth a reconnect.
type DisconnectClassifier struct {
	permanent map[string]struct{}
}

// NewDisconnectClassifier creates a classifier with the given permanent reasons (case-insensitive).
func NewDisconnectClassifier(permanentReasons []string) *DisconnectClassifier {
	c := &DisconnectClassifier{permanent: make(map[string]struct{}, len(permanentReasons))}

	for _, r := range permanentReasons {
		if r = normalizeReason(r); r != "" {
			c.permanent[r] = struct{}{}
		}
	}

	return c
}

func normalizeReason(reason string) string {
	return strings.ToUpper(strings.TrimSpace(reason))
}

// IsPermanent reports whether reason is in the permanent-failure set.
func (c *DisconnectClassifier) IsPermanent(reason string) bool {
	_, ok := c.permanent[normalizeReason(reason)]

	return ok
}

// Classify wraps reason into a categorized error. An empty reason is transient.
func (c *DisconnectClassifier) Classify(reason string) error {
	if reason == "" {
		reason = "unknown"
	}

	err := fmt.Errorf("%w: %s", ErrDisconnected, reason)
	if c.IsPermanent(reason) {
		return NewPermanentError(err)
	}

	return NewTransientError(err)
}

// ClassifyError categorizes a client error: a connectivity break is a
// disconnect classified by its message, anything else is ignored.
// Errors that already carry a category keep it.
func (c *DisconnectClassifier) ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return err
	}

	if !IsConnectivityBreak(err) {
		return NewIgnoredError(err)
	}

	return c.Classify(err.Error())
}

// PermanentReasons returns the configured set, for logging and the debug view.
func (c *DisconnectClassifier) PermanentReasons() []string {
	out := make([]string, 0, len(c.permanent))
	for r := range c.permanent {
		out = append(out, r)
	}

	return out
}

// IsConnectivityBreak reports whether a client error means the connection is lost.
func IsConnectivityBreak(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDisconnected) {
		return true
	}

	return ContainsAny(err.Error(), connectivityBreakSignatures)
}

// ContainsAny reports whether msg contains one of the signatures, ignoring case.
func ContainsAny(msg string, signatures []string) bool {
	msg = strings.ToLower(msg)

	for _, s := range signatures {
		if s != "" && strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}

	return false
}

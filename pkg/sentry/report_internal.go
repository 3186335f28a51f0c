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

package sentry

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// debounceWindow is how long an issue with the same title and level stays muted after it was sent.
const debounceWindow = time.Hour * 2

var (
	debounceMu      sync.Mutex
	debounceEnabled = true
	lastSent        = map[string]time.Time{}
)

func setDebounce(enabled bool) {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	debounceEnabled = enabled
	lastSent = map[string]time.Time{}
}

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	setDebounce(false)
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	setDebounce(true)
}

// shouldSend reports whether an issue with this key may be sent now and marks it as sent.
func shouldSend(key string, now time.Time) bool {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	if !debounceEnabled {
		return true
	}

	if last, ok := lastSent[key]; ok && now.Sub(last) < debounceWindow {
		return false
	}

	lastSent[key] = now

	return true
}

func sentryLevel(issueType IssueType) sentry.Level {
	switch issueType {
	case IssueTypeFatal:
		return sentry.LevelFatal
	case IssueTypeWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("chatgate has encountered a fatal error and will now terminate.")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	sendSentryEvent(createSentryEventWithContext(sentry.LevelFatal, err, context))
	sentry.Flush(time.Second * 5)

	log.Panic("Fatal error")
}

func report(level sentry.Level, err error, log *zap.SugaredLogger, context map[string]interface{}) {
	if level == sentry.LevelWarning {
		log.Warn(err)
	} else {
		log.Error(err)
	}

	if !shouldSend(getLevelString(level)+":"+getMeaningfulErrorTitle(err), time.Now()) {
		return
	}

	sendSentryEvent(createSentryEventWithContext(level, err, context))
}

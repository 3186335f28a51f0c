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
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
)

// InitSentry initializes sentry for the given release. Local builds (no
// version or the default dev version) and an empty DSN leave reporting off.
// If debounceErrors is true, repeated issues with the same title are only
// sent once per debounce window.
func InitSentry(appVersion string, dsn string, debounceErrors bool) {
	setDebounce(debounceErrors)

	if appVersion == "" || appVersion == constants.DefaultAppVersion || dsn == "" {
		zap.S().Debug("Sentry disabled for local development build")

		return
	}

	environment := constants.DefaultDevelopmentEnvironment

	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
	} else if version.Prerelease() == "" {
		environment = constants.DefaultProductionEnvironment
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environment,
		Release:       "chatgate@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)
	}
}

// getMeaningfulErrorTitle cuts the message at the first period, comma or
// colon so wrapped errors of the same kind share one title.
func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}

	if level == sentry.LevelFatal || level == sentry.LevelError {
		threads, stacktrace := captureGoroutinesAsThreads()
		event.Threads = threads
		event.Attachments = append(event.Attachments, &sentry.Attachment{
			Filename:    "stacktrace.txt",
			ContentType: "text/plain",
			Payload:     stacktrace,
		})
	}

	event.Fingerprint = []string{
		"{{ default }}",
		"level: " + getLevelString(level),
	}

	return event
}

// createSentryEventWithContext adds simple context values as tags and
// everything else as extra data. Keys listed in FingerprintKeys also refine
// the grouping.
func createSentryEventWithContext(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := createSentryEvent(level, err)
	if len(context) == 0 {
		return event
	}

	if event.Tags == nil {
		event.Tags = make(map[string]string)
	}

	for key, value := range context {
		switch v := value.(type) {
		case string:
			event.Tags[key] = v
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
			event.Tags[key] = fmt.Sprintf("%v", v)
		default:
			if event.Extra == nil {
				event.Extra = make(map[string]interface{})
			}

			event.Extra[key] = v
		}

		for _, fp := range FingerprintKeys {
			if key == fp {
				event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
			}
		}
	}

	return event
}

func getLevelString(level sentry.Level) string {
	switch level {
	case sentry.LevelDebug:
		return "debug"
	case sentry.LevelInfo:
		return "info"
	case sentry.LevelWarning:
		return "warning"
	case sentry.LevelError:
		return "error"
	case sentry.LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func sendSentryEvent(event *sentry.Event) {
	sentry.CurrentHub().Clone().CaptureEvent(event)
}

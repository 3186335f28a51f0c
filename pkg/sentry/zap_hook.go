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
	"strconv"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

// FingerprintKeys are log field and context keys that refine sentry grouping.
var FingerprintKeys = []string{"operation", "tenant", "state", "service_type"}

// SentryHook mirrors error level log entries to sentry.
type SentryHook struct {
	zapcore.Core
}

func NewSentryHook(core zapcore.Core) *SentryHook {
	return &SentryHook{Core: core}
}

func (h *SentryHook) With(fields []zapcore.Field) zapcore.Core {
	return &SentryHook{Core: h.Core.With(fields)}
}

func (h *SentryHook) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if h.Enabled(entry.Level) {
		return ce.AddCore(entry, h)
	}

	return ce
}

func (h *SentryHook) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= zapcore.ErrorLevel {
		go h.captureToSentry(entry, fields)
	}

	return h.Core.Write(entry, fields)
}

func (h *SentryHook) captureToSentry(entry zapcore.Entry, fields []zapcore.Field) {
	context := extractFieldsAsContext(fields)
	level := zapLevelToSentry(entry.Level)

	fingerprint := []string{"{{ default }}", "level: " + getLevelString(level)}

	for _, key := range FingerprintKeys {
		if v, ok := context[key]; ok {
			fingerprint = append(fingerprint, fmt.Sprintf("%s: %s", key, v))
		}
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetFingerprint(fingerprint)

		if entry.LoggerName != "" {
			scope.SetTag("component", entry.LoggerName)
		}

		for k, v := range context {
			scope.SetTag(k, v)
		}

		sentry.CaptureMessage(entry.Message)
	})
}

func extractFieldsAsContext(fields []zapcore.Field) map[string]string {
	context := make(map[string]string, len(fields))

	for _, field := range fields {
		switch field.Type {
		case zapcore.StringType:
			context[field.Key] = field.String
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
			context[field.Key] = strconv.FormatInt(field.Integer, 10)
		case zapcore.BoolType:
			context[field.Key] = strconv.FormatBool(field.Integer == 1)
		case zapcore.DurationType:
			context[field.Key] = strconv.FormatInt(field.Integer, 10)
		default:
			if field.Interface != nil {
				context[field.Key] = fmt.Sprintf("%v", field.Interface)
			}
		}
	}

	return context
}

func zapLevelToSentry(level zapcore.Level) sentry.Level {
	switch level {
	case zapcore.DebugLevel:
		return sentry.LevelDebug
	case zapcore.InfoLevel:
		return sentry.LevelInfo
	case zapcore.WarnLevel:
		return sentry.LevelWarning
	case zapcore.ErrorLevel:
		return sentry.LevelError
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}

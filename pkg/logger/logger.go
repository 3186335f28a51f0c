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

package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level.
type LogLevel string

// LogFormat represents the logging format.
type LogFormat string

const (
	DebugLevel LogLevel = "DEBUG"
	InfoLevel  LogLevel = "INFO"
	WarnLevel  LogLevel = "WARN"
	ErrorLevel LogLevel = "ERROR"
	// ProductionLevel is an alias for InfoLevel.
	ProductionLevel LogLevel = "PRODUCTION"

	// FormatConsole is the human-readable format used during local development.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON is the structured format shipped to log collectors.
	FormatJSON LogFormat = "JSON"
)

var (
	initOnce    sync.Once
	initialized bool
	initMu      sync.RWMutex
)

func parseLevel(level LogLevel) zapcore.Level {
	switch LogLevel(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseFormat(value string, fallback LogFormat) LogFormat {
	switch LogFormat(strings.ToUpper(value)) {
	case FormatConsole:
		return FormatConsole
	case FormatJSON:
		return FormatJSON
	default:
		return fallback
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func consoleTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New creates a zap logger writing to stdout with the given level and format.
// Extra options are applied last, which is how the sentry hook gets attached.
func New(logLevel string, logFormat LogFormat, opts ...zap.Option) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	if logFormat == FormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = consoleTimeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(parseLevel(LogLevel(logLevel))))

	return zap.New(core, append([]zap.Option{zap.AddCaller()}, opts...)...)
}

// Initialize replaces the global zap loggers. It reads LOGGING_LEVEL and
// LOGGING_FORMAT and only has an effect on its first call.
func Initialize(opts ...zap.Option) {
	initOnce.Do(func() {
		logLevel := getEnv("LOGGING_LEVEL", string(ProductionLevel))
		logFormat := parseFormat(getEnv("LOGGING_FORMAT", string(FormatJSON)), FormatJSON)
		log := New(logLevel, logFormat, opts...)

		log.Info("Logger initialized",
			zap.String("level", logLevel),
			zap.String("format", string(logFormat)))

		zap.ReplaceGlobals(log)

		initMu.Lock()
		initialized = true
		initMu.Unlock()
	})
}

func ensureInitialized() {
	initMu.RLock()
	ok := initialized
	initMu.RUnlock()

	if !ok {
		Initialize()
	}
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}

// For creates a named logger for a specific component.
func For(component string) *zap.SugaredLogger {
	ensureInitialized()

	return zap.S().Named(component)
}

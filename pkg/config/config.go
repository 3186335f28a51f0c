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

// Package config loads the gateway configuration: a yaml file with
// environment overrides on top of built-in defaults.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/chatgate/pkg/api"
	"github.com/united-manufacturing-hub/chatgate/pkg/assistant"
	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
	"github.com/united-manufacturing-hub/chatgate/pkg/env"
	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient/bridge"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/chatgate/pkg/session"
)

// FullConfig is the complete gateway configuration.
type FullConfig struct {
	Server      api.Config       `yaml:"server"`
	MetricsPort int              `yaml:"metricsPort"`
	Session     session.Config   `yaml:"session"`
	Bridge      bridge.Config    `yaml:"bridge"`
	Assistant   assistant.Config `yaml:"assistant"`
	Sentry      SentryConfig     `yaml:"sentry"`
}

type SentryConfig struct {
	DSN            string `yaml:"-"`
	DebounceErrors bool   `yaml:"debounceErrors"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() FullConfig {
	return FullConfig{
		Server:      api.Config{Port: constants.DefaultPort},
		MetricsPort: constants.DefaultMetricsPort,
		Session:     session.DefaultConfig(),
		Bridge: bridge.Config{
			Command:  "node",
			Args:     []string{"sidecar/index.js"},
			Headless: true,
		},
		Assistant: assistant.Config{
			Timeout:     constants.AssistantTimeout,
			ThreadTTL:   constants.AssistantThreadTTL,
			ResponseTTL: constants.AssistantResponseTTL,
		},
		Sentry: SentryConfig{DebounceErrors: true},
	}
}

// ParseConfig decodes data over the defaults. Unknown fields are rejected
// unless allowUnknownFields is set. Empty input yields the defaults.
func ParseConfig(data []byte, allowUnknownFields bool) (FullConfig, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(!allowUnknownFields)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return FullConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Load reads path through fs, a missing file means defaults. Environment
// overrides are applied afterwards and the result is validated.
func Load(ctx context.Context, fs filesystem.Service, path string) (FullConfig, error) {
	exists, err := fs.PathExists(ctx, path)
	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to check config file: %w", err)
	}

	cfg := Default()

	if exists {
		data, err := fs.ReadFile(ctx, path)
		if err != nil {
			return FullConfig{}, fmt.Errorf("failed to read config file: %w", err)
		}

		if cfg, err = ParseConfig(data, false); err != nil {
			return FullConfig{}, err
		}
	} else {
		logger.For(logger.ComponentConfig).Infof("No config file at %s, using defaults", path)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return FullConfig{}, err
	}

	cfg.Bridge.AuthDir = cfg.Session.AuthDir

	if err := cfg.Validate(); err != nil {
		return FullConfig{}, err
	}

	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables that are set.
func ApplyEnv(cfg *FullConfig) error {
	var (
		errs []error
		err  error
	)

	if cfg.Server.Port, err = env.GetAsInt("PORT", false, cfg.Server.Port); err != nil {
		errs = append(errs, err)
	}

	if cfg.MetricsPort, err = env.GetAsInt("METRICS_PORT", false, cfg.MetricsPort); err != nil {
		errs = append(errs, err)
	}

	cfg.Server.AuthToken, _ = env.GetAsString("AUTH_TOKEN", false, cfg.Server.AuthToken)
	cfg.Session.AuthDir, _ = env.GetAsString("AUTH_DIR", false, cfg.Session.AuthDir)
	cfg.Bridge.Command, _ = env.GetAsString("BRIDGE_COMMAND", false, cfg.Bridge.Command)
	cfg.Bridge.Args = env.GetAsList("BRIDGE_ARGS", cfg.Bridge.Args)

	if cfg.Bridge.Headless, err = env.GetAsBool("HEADLESS", false, cfg.Bridge.Headless); err != nil {
		errs = append(errs, err)
	}

	if cfg.Assistant.Enabled, err = env.GetAsBool("ASSISTANT_ENABLED", false, cfg.Assistant.Enabled); err != nil {
		errs = append(errs, err)
	}

	cfg.Assistant.AppToken, _ = env.GetAsString("APP_TOKEN", false, cfg.Assistant.AppToken)
	cfg.Assistant.BaseURL, _ = env.GetAsString("ASSISTANT_URL", false, cfg.Assistant.BaseURL)
	cfg.Assistant.AssistantID, _ = env.GetAsString("ASSISTANT_ID", false, cfg.Assistant.AssistantID)
	cfg.Assistant.LoginURL, _ = env.GetAsString("ASSISTANT_LOGIN_URL", false, cfg.Assistant.LoginURL)
	cfg.Sentry.DSN, _ = env.GetAsString("SENTRY_DSN", false, cfg.Sentry.DSN)

	if cfg.Session.Reconnect.GraceWindow, err = env.GetAsDuration("RECONNECT_GRACE_WINDOW", false, cfg.Session.Reconnect.GraceWindow); err != nil {
		errs = append(errs, err)
	}

	if cfg.Session.Monitor.Interval, err = env.GetAsDuration("MONITOR_INTERVAL", false, cfg.Session.Monitor.Interval); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c FullConfig) Validate() error {
	errs := []error{
		c.Server.Validate(),
		c.Session.Validate(),
		c.Bridge.Validate(),
		c.Assistant.Validate(),
	}

	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metricsPort must be between 1 and 65535, got %d", c.MetricsPort))
	} else if c.MetricsPort == c.Server.Port {
		errs = append(errs, errors.New("metricsPort must differ from server.port"))
	}

	return errors.Join(errs...)
}

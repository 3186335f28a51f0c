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

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/backoff"
	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
)

// Config holds the timeouts and policies of the manager.
type Config struct {
	// AuthDir is where clients keep their credentials, one "session-<tenant>" directory each.
	AuthDir string `yaml:"authDir"`

	LivenessProbeTimeout time.Duration `yaml:"livenessProbeTimeout"`
	SelfInfoProbeTimeout time.Duration `yaml:"selfInfoProbeTimeout"`
	ListChatsTimeout     time.Duration `yaml:"listChatsTimeout"`
	InitializeTimeout    time.Duration `yaml:"initializeTimeout"`
	DestroyTimeout       time.Duration `yaml:"destroyTimeout"`
	LogoutTimeout        time.Duration `yaml:"logoutTimeout"`
	SendTimeout          time.Duration `yaml:"sendTimeout"`
	LockTimeout          time.Duration `yaml:"lockTimeout"`
	StatusWaitTimeout    time.Duration `yaml:"statusWaitTimeout"`

	// ForceReadyAfter is how long a session may sit at 100% sync before it is promoted.
	ForceReadyAfter time.Duration `yaml:"forceReadyAfter"`
	// ForceReadyOnSelfInfo promotes a syncing session once the account data is readable.
	ForceReadyOnSelfInfo bool `yaml:"forceReadyOnSelfInfo"`
	// SelfInfoMinSyncAge delays the self-info promotion after authentication.
	SelfInfoMinSyncAge time.Duration `yaml:"selfInfoMinSyncAge"`

	// ProbeFailureThreshold is the number of inconclusive liveness probes in
	// a row after which a ready session is destroyed.
	ProbeFailureThreshold int `yaml:"probeFailureThreshold"`
	// CheckProbesReady enables the liveness probe in CheckConnectionStatus.
	CheckProbesReady bool `yaml:"checkProbesReady"`

	LoadingConfirmDelay time.Duration `yaml:"loadingConfirmDelay"`
	BatteryConfirmDelay time.Duration `yaml:"batteryConfirmDelay"`

	// KnownDefectSignatures are client error messages after which a send is retried once.
	KnownDefectSignatures []string `yaml:"knownDefectSignatures"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

type ReconnectConfig struct {
	Enabled          bool                    `yaml:"enabled"`
	Policy           backoff.ReconnectPolicy `yaml:"policy"`
	GraceWindow      time.Duration           `yaml:"graceWindow"`
	PermanentReasons []string                `yaml:"permanentReasons"`
}

type MonitorConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	StaleDisconnectAfter time.Duration `yaml:"staleDisconnectAfter"`
	Concurrency          int           `yaml:"concurrency"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AuthDir:               constants.DefaultAuthDir,
		LivenessProbeTimeout:  constants.LivenessProbeTimeout,
		SelfInfoProbeTimeout:  constants.SelfInfoProbeTimeout,
		ListChatsTimeout:      constants.ListChatsTimeout,
		InitializeTimeout:     constants.InitializeTimeout,
		DestroyTimeout:        constants.DestroyTimeout,
		LogoutTimeout:         constants.LogoutTimeout,
		SendTimeout:           constants.SendTimeout,
		LockTimeout:           constants.LockTimeout,
		StatusWaitTimeout:     constants.StatusWaitTimeout,
		ForceReadyAfter:       constants.ForceReadyAfter,
		ForceReadyOnSelfInfo:  true,
		ProbeFailureThreshold: constants.ProbeFailureThreshold,
		CheckProbesReady:      true,
		LoadingConfirmDelay:   constants.LoadingCompleteConfirmDelay,
		BatteryConfirmDelay:   constants.BatteryConfirmDelay,
		KnownDefectSignatures: append([]string(nil), constants.DefaultKnownDefectSignatures...),
		Reconnect: ReconnectConfig{
			Enabled:          true,
			Policy:           backoff.DefaultReconnectPolicy(),
			GraceWindow:      constants.ReconnectGraceWindow,
			PermanentReasons: append([]string(nil), constants.DefaultPermanentDisconnectReasons...),
		},
		Monitor: MonitorConfig{
			Enabled:              true,
			Interval:             constants.MonitorInterval,
			StaleDisconnectAfter: constants.StaleDisconnectAfter,
			Concurrency:          constants.MonitorConcurrency,
		},
	}
}

// Validate rejects configurations under which a wait could be unbounded.
func (c Config) Validate() error {
	timeouts := map[string]time.Duration{
		"livenessProbeTimeout":  c.LivenessProbeTimeout,
		"selfInfoProbeTimeout":  c.SelfInfoProbeTimeout,
		"listChatsTimeout":      c.ListChatsTimeout,
		"initializeTimeout":     c.InitializeTimeout,
		"destroyTimeout":        c.DestroyTimeout,
		"logoutTimeout":         c.LogoutTimeout,
		"sendTimeout":           c.SendTimeout,
		"lockTimeout":           c.LockTimeout,
		"statusWaitTimeout":     c.StatusWaitTimeout,
		"forceReadyAfter":       c.ForceReadyAfter,
		"reconnect.graceWindow": c.Reconnect.GraceWindow,
	}

	var errs []error

	for name, d := range timeouts {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.ProbeFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("probeFailureThreshold must be at least 1, got %d", c.ProbeFailureThreshold))
	}

	if c.SelfInfoMinSyncAge < 0 {
		errs = append(errs, errors.New("selfInfoMinSyncAge must not be negative"))
	}

	if err := c.Reconnect.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Monitor.Enabled {
		if c.Monitor.Interval <= 0 {
			errs = append(errs, fmt.Errorf("monitor.interval must be positive, got %s", c.Monitor.Interval))
		}

		if c.Monitor.StaleDisconnectAfter <= 0 {
			errs = append(errs, fmt.Errorf("monitor.staleDisconnectAfter must be positive, got %s", c.Monitor.StaleDisconnectAfter))
		}

		if c.Monitor.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("monitor.concurrency must be at least 1, got %d", c.Monitor.Concurrency))
		}
	}

	return errors.Join(errs...)
}

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
	"time"

	cbackoff "github.com/cenkalti/backoff"

	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
)

// ReconnectPolicy describes the delays between reconnect attempts of one
// disconnect episode: min(MaxDelay, InitialDelay * Multiplier^attempt).
type ReconnectPolicy struct {
	InitialDelay time.Duration `yaml:"initialDelay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
	MaxAttempts  int           `yaml:"maxAttempts"`
}

// DefaultReconnectPolicy returns 5s, 10s, 20s with three attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: constants.ReconnectInitialDelay,
		Multiplier:   constants.ReconnectMultiplier,
		MaxDelay:     constants.ReconnectMaxDelay,
		MaxAttempts:  constants.ReconnectMaxAttempts,
	}
}

// Validate rejects policies that would never wait or never stop.
func (p ReconnectPolicy) Validate() error {
	switch {
	case p.InitialDelay <= 0:
		return errors.New("reconnect initial delay must be positive")
	case p.Multiplier < 1:
		return fmt.Errorf("reconnect multiplier must be at least 1, got %v", p.Multiplier)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("reconnect max delay %s is below the initial delay %s", p.MaxDelay, p.InitialDelay)
	case p.MaxAttempts < 1:
		return fmt.Errorf("reconnect max attempts must be at least 1, got %d", p.MaxAttempts)
	}

	return nil
}

// newExponentialBackOff builds a deterministic backoff (no jitter, no elapsed time limit).
func (p ReconnectPolicy) newExponentialBackOff() *cbackoff.ExponentialBackOff {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// Delay returns the wait before attempt (zero based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	b := p.newExponentialBackOff()

	delay := b.NextBackOff()
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay = b.NextBackOff()
	}

	if delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// Exhausted reports whether attempts already used up the budget.
func (p ReconnectPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

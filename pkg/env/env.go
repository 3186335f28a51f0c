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

package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetAsString retrieves an environment variable as a string.
// A required variable that is unset yields an error, otherwise defaultValue is returned.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		if required {
			return "", fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	return value, nil
}

// GetAsInt retrieves an environment variable as an integer.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	value, err := GetAsString(key, required, strconv.Itoa(defaultValue))
	if err != nil {
		return 0, err
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		if required {
			return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
		}

		return defaultValue, nil
	}

	return intValue, nil
}

// GetAsBool retrieves an environment variable as a boolean. It accepts the
// usual spellings (true/1/yes/on and false/0/no/off).
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	value, err := GetAsString(key, required, strconv.FormatBool(defaultValue))
	if err != nil {
		return false, err
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		if required {
			return false, fmt.Errorf("environment variable %s must be a boolean value", key)
		}

		return defaultValue, nil
	}
}

// GetAsDuration retrieves an environment variable as a time.Duration ("15s", "5m").
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	value, err := GetAsString(key, required, defaultValue.String())
	if err != nil {
		return 0, err
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		if required {
			return 0, fmt.Errorf("environment variable %s must be a duration: %w", key, err)
		}

		return defaultValue, nil
	}

	return d, nil
}

// GetAsList retrieves a comma separated environment variable. Empty items are dropped.
func GetAsList(key string, defaultValue []string) []string {
	value, _ := GetAsString(key, false, "")
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

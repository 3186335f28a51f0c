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

package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidNumber is returned for numbers that match no known Brazilian format.
var ErrInvalidNumber = errors.New("invalid number")

// NormalizeNumber brings a Brazilian mobile number into +55AANNNNNNNNN form.
// Accepted inputs are the full 13 digit form, 11 digits without country code,
// 10 digits missing the mobile 9 and 12 digits with country code but without the 9.
func NormalizeNumber(number string) (string, error) {
	var b strings.Builder

	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()

	switch {
	case len(digits) == 13 && strings.HasPrefix(digits, "55"):
		return "+" + digits, nil
	case len(digits) == 11:
		return "+55" + digits, nil
	case len(digits) == 10:
		return "+55" + digits[:2] + "9" + digits[2:], nil
	case len(digits) == 12 && strings.HasPrefix(digits, "55"):
		return NormalizeNumber(digits[2:])
	default:
		return "", fmt.Errorf("%w: %q, expected +5511999999999, (11) 99999-9999 or 11999999999", ErrInvalidNumber, number)
	}
}

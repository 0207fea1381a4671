/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMissingParam indicates a required parameter was absent or empty.
	ErrMissingParam = errors.New("missing required parameter")
	// ErrInvalidParam indicates a parameter had the wrong type.
	ErrInvalidParam = errors.New("invalid parameter")
)

// Params are the decoded command arguments. JSON numbers arrive as float64.
type Params map[string]interface{}

// String returns the string value for key.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}

	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// StringOr returns the string value for key or def when absent.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok && s != "" {
		return s
	}

	return def
}

// RequireString returns the non-empty string value for key.
func (p Params) RequireString(key string) (string, error) {
	s, ok := p.String(key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}

	return s, nil
}

// Int returns the integer value for key, def when absent, and an error when the value
// is present but not a whole number.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidParam, key)
		}

		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParam, key, err)
		}

		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParam, key)
		}

		return i, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParam, key)
	}
}

// RequireInt is Int for a parameter that must be present.
func (p Params) RequireInt(key string) (int, error) {
	if v, ok := p[key]; !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}

	return p.Int(key, 0)
}

// Bool returns the boolean value for key or def when absent.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}

	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def
		}

		return parsed
	case float64:
		return b != 0
	default:
		return def
	}
}

// ParamError converts a parameter error into a failed result.
func ParamError(err error) Result {
	msg := err.Error()
	if msg != "" {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}

	return Result{Message: msg}
}

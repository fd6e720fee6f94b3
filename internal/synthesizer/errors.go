/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package synthesizer

import (
	"fmt"
)

// ErrInvalidConfig represents errors in synthesizer configuration
type ErrInvalidConfig struct {
	Msg string
	Err error
}

// ErrNotFitted represents calls that require a fitted model
type ErrNotFitted struct {
	Msg string
	Err error
}

// ErrInvalidInput represents errors related to invalid call arguments
type ErrInvalidInput struct {
	Msg string
	Err error
}

func format(kind, msg string, err error) string {
	if err == nil {
		return fmt.Sprintf("%s: %s", kind, msg)
	}
	return fmt.Sprintf("%s: %s: %v", kind, msg, err)
}

func (e *ErrInvalidConfig) Error() string {
	return format("invalid config error", e.Msg, e.Err)
}

func (e *ErrInvalidConfig) Unwrap() error {
	return e.Err
}

func (e *ErrNotFitted) Error() string {
	return format("not fitted error", e.Msg, e.Err)
}

func (e *ErrNotFitted) Unwrap() error {
	return e.Err
}

func (e *ErrInvalidInput) Error() string {
	return format("invalid input error", e.Msg, e.Err)
}

func (e *ErrInvalidInput) Unwrap() error {
	return e.Err
}

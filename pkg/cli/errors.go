/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

package cli

import (
	"fmt"
	"os"
)

// CLIError is an operator-facing failure: what went wrong, optional
// detail, and suggestions for how to proceed.
type CLIError struct {
	Message     string
	Detail      string
	Suggestions []string
	ExitCode    int
}

// Error implements the error interface.
func (e *CLIError) Error() string { return e.Message }

// NewCLIError creates a CLIError that exits with status 1.
func NewCLIError(message string) *CLIError {
	return &CLIError{Message: message, ExitCode: 1}
}

// WithDetail attaches a secondary explanation line.
func (e *CLIError) WithDetail(detail string) *CLIError {
	e.Detail = detail
	return e
}

// WithSuggestion appends one suggestion line.
func (e *CLIError) WithSuggestion(suggestion string) *CLIError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// Exit prints the error with its detail and suggestions, then
// terminates the process with the error's exit code.
func (e *CLIError) Exit() {
	PrintError("%s", e.Message)
	if e.Detail != "" {
		fmt.Printf("  %s\n", dim(e.Detail))
	}
	for _, s := range e.Suggestions {
		fmt.Printf("  %s %s\n", dim("→"), s)
	}
	os.Exit(e.ExitCode)
}

// ErrUnknownDictionary reports a dictionary the basis has not mounted.
func ErrUnknownDictionary(name string) *CLIError {
	return NewCLIError(fmt.Sprintf("unknown dictionary: %s", name)).
		WithSuggestion("pass -dict with the name of a mounted dictionary").
		WithSuggestion("run without -dict to use the default dictionary")
}

// ErrInvalidValue reports a flag value the tool cannot interpret.
func ErrInvalidValue(flag, value, reason string) *CLIError {
	return NewCLIError(fmt.Sprintf("invalid value for %s: %q", flag, value)).
		WithDetail(reason)
}

// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors classifies failures into the kinds the host CLI reports
// distinct exit codes for: input, config, permission, database, network,
// and internal errors. Every non-trivial failure path in cmd/cortex returns
// or exits through a *UserError so the terminal message and the process
// exit code stay in lockstep.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind classifies a UserError for exit-code mapping and JSON reporting.
type Kind string

const (
	KindInput      Kind = "input"
	KindConfig     Kind = "config"
	KindPermission Kind = "permission"
	KindDatabase   Kind = "database"
	KindNetwork    Kind = "network"
	KindInternal   Kind = "internal"
)

// exitCodes maps each Kind to the process exit code FatalError uses.
// 0 is reserved for success and is never returned here.
var exitCodes = map[Kind]int{
	KindInput:      2,
	KindConfig:     3,
	KindPermission: 4,
	KindDatabase:   5,
	KindNetwork:    6,
	KindInternal:   1,
}

// UserError is a classified, terminal-friendly error: a short Title, a
// longer Detail explaining what went wrong, an actionable Suggestion, and
// optionally the underlying Err that triggered it.
type UserError struct {
	Kind       Kind   `json:"kind"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion,omitempty"`
	Err        error  `json:"-"`
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error { return e.Err }

// ExitCode returns the process exit code associated with this error's Kind.
func (e *UserError) ExitCode() int {
	if code, ok := exitCodes[e.Kind]; ok {
		return code
	}
	return 1
}

func newError(kind Kind, title, detail, suggestion string, cause ...error) *UserError {
	ue := &UserError{Kind: kind, Title: title, Detail: detail, Suggestion: suggestion}
	if len(cause) > 0 {
		ue.Err = cause[0]
	}
	return ue
}

// NewInputError reports malformed or missing user input (query syntax,
// missing project root, unknown language). Never retried.
func NewInputError(title, detail, suggestion string, cause ...error) *UserError {
	return newError(KindInput, title, detail, suggestion, cause...)
}

// NewConfigError reports a malformed or version-mismatched configuration
// file. A config error surfacing during Initialize is fatal (spec §7.3).
func NewConfigError(title, detail, suggestion string, cause ...error) *UserError {
	return newError(KindConfig, title, detail, suggestion, cause...)
}

// NewPermissionError reports filesystem permission failures.
func NewPermissionError(title, detail, suggestion string, cause ...error) *UserError {
	return newError(KindPermission, title, detail, suggestion, cause...)
}

// NewDatabaseError reports a graph-store failure: a transaction rollback,
// a migration failure, or an engine-open failure.
func NewDatabaseError(title, detail, suggestion string, cause ...error) *UserError {
	return newError(KindDatabase, title, detail, suggestion, cause...)
}

// NewNetworkError reports an external-process failure: the lexical index
// subprocess is unreachable, a health probe timed out, or a remote backend
// call failed.
func NewNetworkError(title, detail, suggestion string, cause ...error) *UserError {
	return newError(KindNetwork, title, detail, suggestion, cause...)
}

// NewInternalError reports a failure that should never happen in normal
// operation (a bug, an unreachable branch, an unexpected nil).
func NewInternalError(title, detail, suggestion string, cause ...error) *UserError {
	return newError(KindInternal, title, detail, suggestion, cause...)
}

// AsUserError unwraps err into a *UserError, wrapping it as an internal
// error if it isn't already one.
func AsUserError(err error) *UserError {
	if ue, ok := err.(*UserError); ok {
		return ue
	}
	return NewInternalError("Unexpected error", err.Error(), "This is a bug. Please report it with the command you ran.", err)
}

// FatalError prints err to stderr (as JSON when jsonMode is set) and exits
// the process with the kind-derived code. It never returns.
func FatalError(err error, jsonMode bool) {
	ue := AsUserError(err)

	if jsonMode {
		payload := map[string]any{
			"error":      true,
			"kind":       ue.Kind,
			"title":      ue.Title,
			"detail":     ue.Detail,
			"suggestion": ue.Suggestion,
		}
		enc, _ := json.Marshal(payload)
		fmt.Fprintln(os.Stderr, string(enc))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Title)
		fmt.Fprintf(os.Stderr, "  %s\n", ue.Detail)
		if ue.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "  Suggestion: %s\n", ue.Suggestion)
		}
		if ue.Err != nil {
			fmt.Fprintf(os.Stderr, "  Cause: %v\n", ue.Err)
		}
	}

	os.Exit(ue.ExitCode())
}

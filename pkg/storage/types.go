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

package storage

import cozo "github.com/kraklabs/cortex/pkg/cozodb"

// QueryResult is the backend-agnostic shape of a Datalog query result:
// column headers plus rows of untyped values, safe to pass across the
// embedded/remote backend boundary and to JSON-encode for --json output.
type QueryResult struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// FromNamedRows adapts a cozodb.NamedRows into the backend-agnostic
// QueryResult shape used throughout pkg/storage and pkg/tools.
func FromNamedRows(nr cozo.NamedRows) *QueryResult {
	return &QueryResult{Headers: nr.Headers, Rows: nr.Rows}
}

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

package tools

import (
	"context"
	"fmt"
	"strings"
)

// FindImplementationsArgs holds arguments for interface implementation lookup.
type FindImplementationsArgs struct {
	InterfaceName string
	PathPattern   string
	Limit         int
}

// FindImplementations lists the concrete types that implement a named
// interface, drawing on the ent_implements edges the writer derives from
// Go method-set satisfaction (or TypeScript/Python structural checks).
func FindImplementations(ctx context.Context, client Querier, args FindImplementationsArgs) (*ToolResult, error) {
	if args.InterfaceName == "" {
		return NewError("Error: 'interface_name' is required"), nil
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}

	conditions := []string{fmt.Sprintf("interface_name == %q", args.InterfaceName)}
	if args.PathPattern != "" {
		conditions = append(conditions, fmt.Sprintf("regex_matches(file_path, %q)", args.PathPattern))
	}

	query := fmt.Sprintf(
		"?[type_name, file_path] := *ent_implements { type_name, interface_name, file_path }, %s :limit %d",
		strings.Join(conditions, ", "), args.Limit,
	)
	result, err := client.Query(ctx, query)
	if err != nil {
		return NewError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	if len(result.Rows) == 0 {
		return NewResult(fmt.Sprintf("No implementations found for interface '%s'.", args.InterfaceName)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "### Implementations of %s (%d found)\n\n", args.InterfaceName, len(result.Rows))
	for _, row := range result.Rows {
		fmt.Fprintf(&sb, "- **%s** (%s)\n", AnyToString(row[0]), AnyToString(row[1]))
	}
	return NewResult(sb.String()), nil
}

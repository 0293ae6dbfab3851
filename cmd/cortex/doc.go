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

// Package main implements the Cortex (Code Intelligence Engine) CLI.
//
// Cortex is a code intelligence tool that indexes codebases and provides
// semantic understanding through the Model Context Protocol (MCP).
// It can be used standalone for local code queries or as an MCP server
// for AI assistants like Claude Code and Cursor.
//
// # Quick Start
//
// Initialize a new project in your repository:
//
//	cd /path/to/your/project
//	cortex init
//
// Index your codebase:
//
//	cortex index
//
// Check indexing status:
//
//	cortex status
//
// Query the indexed code with CozoScript:
//
//	cortex query '?[name, file_path] := *ent_function{ name, file_path } :limit 10'
//
// Start as an MCP server for AI assistants:
//
//	cortex --mcp
//
// # Commands
//
// The CLI provides these main commands:
//
//	init           Initialize a new Cortex project (creates .cortex/project.yaml)
//	index          Index the current repository for code intelligence
//	status         Show project status (files, functions, types indexed)
//	query          Execute CozoScript queries on the indexed codebase
//	reset          Reset local project data (destructive operation)
//	install-hook   Install git post-commit hook for automatic re-indexing
//
// Global flags:
//
//	--version      Show version information and exit
//	--mcp          Start as MCP server (JSON-RPC over stdio)
//	--config PATH  Path to .cortex/project.yaml configuration file
//
// # MCP Server Mode
//
// When run with the --mcp flag, Cortex operates as a Model Context Protocol
// server, exposing 20+ tools for code intelligence to AI assistants.
//
// MCP tools include:
//
//	ent_semantic_search      Find code by meaning using embeddings
//	ent_grep                 Fast literal text search
//	ent_find_function        Find functions by name
//	ent_find_callers         Find what calls a function
//	ent_find_callees         Find what a function calls
//	ent_analyze              Answer architectural questions
//	ent_list_endpoints       List HTTP/REST endpoints
//	ent_trace_path           Trace call paths from entry points
//	ent_find_type            Find types, interfaces, structs
//	ent_find_implementations Find interface implementations
//	ent_directory_summary    Summarize directory structure
//	ent_verify_absence       Verify patterns don't exist (security audits)
//	... and more
//
// Configure Cortex in your MCP client (e.g., Claude Code):
//
//	{
//	  "mcpServers": {
//	    "cortex": {
//	      "command": "cortex",
//	      "args": ["--mcp"],
//	      "env": {
//	        "CORTEX_PROJECT_ID": "my-project",
//	        "CORTEX_BASE_URL": "http://localhost:8080"
//	      }
//	    }
//	  }
//	}
//
// # Configuration
//
// Cortex is configured through a local .cortex/project.yaml file and environment
// variables. The init command creates a default configuration file.
//
// Environment variables (override config file):
//
//	CORTEX_PROJECT_ID         Project identifier (default: directory name)
//	CORTEX_BASE_URL           Edge Cache URL (default: http://localhost:8080)
//	CORTEX_PRIMARY_HUB        Primary Hub gRPC address (default: localhost:50051)
//	CORTEX_CONFIG_PATH        Explicit path to project.yaml
//
// Embedding provider settings:
//
//	OLLAMA_HOST            Ollama API URL (default: http://localhost:11434)
//	OLLAMA_EMBED_MODEL     Embedding model (default: nomic-embed-text)
//
// # Data Storage
//
// Indexed data is stored locally in:
//
//	<configured_data_dir>/<project_id>/ (default: ~/.cortex/data/<project_id>/)
//
// This includes RocksDB databases for local storage and CozoDB for
// Datalog-based queries. Use the reset command to clear local data.
//
// # Git Integration
//
// The install-hook command adds a post-commit hook that automatically
// triggers background re-indexing after each commit, keeping the index
// up-to-date without manual intervention.
//
// See cortex --help for complete usage information.
package main

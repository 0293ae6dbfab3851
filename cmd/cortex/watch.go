// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kraklabs/cortex/pkg/ingestion"
)

// watchSkipDirs lists directories never watched, to save file descriptors and noise.
var watchSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, ".cortex": true, "bin": true,
}

const watchDebounce = 2 * time.Second

// runWatchAndReindex watches the repository for changes and triggers a
// debounced incremental reindex. Embedded-MCP only; portable across macOS
// and Linux via fsnotify.
func runWatchAndReindex(s *mcpServer) {
	if s.backend == nil || s.repoPath == "" {
		fmt.Fprintf(os.Stderr, "[Cortex watch] skip: backend=%v repoPath=%q\n", s.backend != nil, s.repoPath)
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[Cortex watch] fsnotify failed: %v\n", err)
		return
	}
	defer watcher.Close()

	// Add repo directories recursively, skipping .git, node_modules, etc.
	watchCount := 0
	skippedDirs := []string{}
	addDirs := func(root string) {
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsPermission(err) {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			// Skip explicitly listed dirs plus hidden ones (except the root itself)
			if watchSkipDirs[base] || (strings.HasPrefix(base, ".") && base != ".") {
				skippedDirs = append(skippedDirs, path)
				return filepath.SkipDir
			}
			if err := watcher.Add(path); err != nil {
				fmt.Fprintf(os.Stderr, "[Cortex watch] add %s: %v\n", path, err)
				if os.IsPermission(err) {
					return filepath.SkipDir
				}
			} else {
				watchCount++
			}
			return nil
		})
	}
	addDirs(s.repoPath)
	fmt.Fprintf(os.Stderr, "[Cortex watch] watching %d dirs, skipped %d hidden/system dirs\n", watchCount, len(skippedDirs))

	var debounceTimer *time.Timer
	var timerCh <-chan time.Time // nil means not waiting on a pending debounce fire
	eventCount := 0

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			eventCount++
			fmt.Fprintf(os.Stderr, "[Cortex watch] event #%d: %s op=%s\n", eventCount, event.Name, event.Op)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(watchDebounce)
			timerCh = debounceTimer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "[Cortex watch] fsnotify error: %v\n", err)
		case <-timerCh:
			timerCh = nil
			fmt.Fprintf(os.Stderr, "[Cortex watch] debounce fired, events=%d, calling reindex...\n", eventCount)
			if tryStartReindex(s, false) {
				ingestion.AppendIndexLog(filepath.Join(s.repoPath, ".cortex"), "reindex triggered (watch)")
				fmt.Fprintf(os.Stderr, "[Cortex watch] reindex started after file change\n")
			} else {
				fmt.Fprintf(os.Stderr, "[Cortex watch] reindex already in progress\n")
			}
		}
	}
}

// tryStartReindex starts a reindex if one isn't already running. Returns true if it started one.
func tryStartReindex(s *mcpServer, forceFull bool) bool {
	s.reindex.mu.Lock()
	if s.reindex.inProgress {
		s.reindex.mu.Unlock()
		return false
	}
	s.reindex.inProgress = true
	s.reindex.startedAt = time.Now()
	s.reindex.phase = "starting"
	s.reindex.current = 0
	s.reindex.total = 0
	s.reindex.lastErr = nil
	s.reindex.lastResult = nil
	s.reindex.mu.Unlock()
	go runReindexGoroutine(s, forceFull)
	return true
}

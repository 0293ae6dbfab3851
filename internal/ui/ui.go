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

// Package ui prints CLI progress and status output: colorized when stdout
// is a terminal, plain text otherwise (honoring --no-color and piped
// output alike).
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

var (
	Dim     = color.New(color.Faint)
	Cyan    = color.New(color.FgCyan)
	Green   = color.New(color.FgGreen, color.Bold)
	Yellow  = color.New(color.FgYellow, color.Bold)
	Red     = color.New(color.FgRed, color.Bold)
	BoldTxt = color.New(color.Bold)
)

// InitColors disables color output when noColor is set or stdout isn't a
// terminal, matching the convention of most CLIs in this ecosystem.
func InitColors(noColor bool) {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

func Info(msg string)                          { fmt.Println(msg) }
func Infof(format string, args ...interface{})  { fmt.Printf(format+"\n", args...) }
func Success(msg string)                        { Green.Println("✓ " + msg) }
func Successf(format string, args ...interface{}) {
	Green.Println("✓ " + fmt.Sprintf(format, args...))
}
func Warning(msg string)                          { Yellow.Println("! " + msg) }
func Warningf(format string, args ...interface{}) { Yellow.Println("! " + fmt.Sprintf(format, args...)) }
func ErrorMsg(msg string)                         { Red.Println("✗ " + msg) }

// Header prints a top-level section title.
func Header(title string) {
	fmt.Println()
	BoldTxt.Println(title)
}

// SubHeader prints a nested section title.
func SubHeader(title string) {
	BoldTxt.Println("  " + title)
}

// Label formats a field label for aligned key/value output.
func Label(text string) string {
	return BoldTxt.Sprint(text)
}

// DimText renders secondary/supporting text.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText renders an entity count, dimmed when zero.
func CountText(n int) string {
	s := fmt.Sprintf("%d", n)
	if n == 0 {
		return Dim.Sprint(s)
	}
	return s
}

// NewProgressBar creates a terminal progress bar for long-running phases
// (parsing, embedding, writing); it degrades to a silent no-op renderer
// when output isn't a terminal.
func NewProgressBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the nl2sqlctl CLI.
//
// All chrome (titles, status lines, spinners) goes to stderr so stdout
// stays clean for results: generated SQL and JSON reports can be piped
// to another tool without stripping decoration first. Plain mode drops
// colors and boxes for non-interactive use; call InitTerminal once at
// startup to pick the mode from the environment.
package ux

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Datasulting palette - slate blues with warm signal colors
var (
	ColorAzureBright = lipgloss.Color("#6CB2EB") // highlights, emphasis
	ColorAzure       = lipgloss.Color("#4A90D9") // primary brand color
	ColorSteel       = lipgloss.Color("#3B6EA5") // secondary elements
	ColorHarbor      = lipgloss.Color("#2C5282") // borders, accents
	ColorSlate       = lipgloss.Color("#64748B") // muted text

	// Semantic colors
	ColorSuccess = lipgloss.Color("#48BB78") // green for success
	ColorWarning = lipgloss.Color("#D69E2E") // amber for warnings
	ColorError   = lipgloss.Color("#E53E3E") // red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Box styles
	SQLBox  lipgloss.Style
	InfoBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAzureBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorAzure),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAzureBright).Bold(true),

	SQLBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorHarbor).
		Padding(0, 1),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAzure).
		Padding(0, 1),
}

// plainMode drops styling and boxes when set. Atomic so a test or a
// signal handler can flip it while a spinner goroutine reads it.
var plainMode atomic.Bool

// SetPlain forces plain output on or off.
func SetPlain(plain bool) {
	plainMode.Store(plain)
}

// IsPlain reports whether plain output is active.
func IsPlain() bool {
	return plainMode.Load()
}

// InitTerminal selects the output mode from the environment: plain when
// NL2SQL_PLAIN is set or when stderr is not a terminal.
func InitTerminal() {
	if os.Getenv("NL2SQL_PLAIN") != "" {
		SetPlain(true)
		return
	}
	fd := os.Stderr.Fd()
	SetPlain(!isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd))
}

// Icon provides themed status glyphs
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconBullet  Icon = "•"
)

// Render returns the icon with its semantic color, or the bare glyph in
// plain mode.
func (i Icon) Render() string {
	if IsPlain() {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a styled section title.
func Title(text string) {
	if IsPlain() {
		fmt.Fprintln(os.Stderr, text)
		return
	}
	fmt.Fprintln(os.Stderr, Styles.Title.Render(text))
}

// Info prints an informational line.
func Info(text string) {
	if IsPlain() {
		fmt.Fprintln(os.Stderr, text)
		return
	}
	fmt.Fprintln(os.Stderr, Styles.Subtitle.Render(text))
}

// Detail prints a muted detail line.
func Detail(text string) {
	if IsPlain() {
		fmt.Fprintln(os.Stderr, text)
		return
	}
	fmt.Fprintln(os.Stderr, Styles.Muted.Render(text))
}

// Success prints a success line with its icon.
func Success(text string) {
	statusLine(IconSuccess, Styles.Success, text)
}

// Warning prints a warning line with its icon.
func Warning(text string) {
	statusLine(IconWarning, Styles.Warning, text)
}

// Error prints an error line with its icon.
func Error(text string) {
	statusLine(IconError, Styles.Error, text)
}

func statusLine(icon Icon, style lipgloss.Style, text string) {
	if IsPlain() {
		fmt.Fprintf(os.Stderr, "%s %s\n", string(icon), text)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", icon.Render(), style.Render(text))
}

// RenderSQL returns sql inside a bordered box, or unchanged in plain mode.
// The caller decides where it goes; translation results belong on stdout.
func RenderSQL(sql string) string {
	if IsPlain() {
		return sql
	}
	return Styles.SQLBox.Render(sql)
}

// RenderCheck formats a pass/fail line for one named check.
func RenderCheck(label string, ok bool) string {
	icon := IconError
	if ok {
		icon = IconSuccess
	}
	return fmt.Sprintf("%s %s", icon.Render(), label)
}

// KeyValue formats a "key: value" detail line with the key muted.
func KeyValue(key, value string) string {
	if IsPlain() {
		return fmt.Sprintf("%s: %s", key, value)
	}
	return fmt.Sprintf("%s %s", Styles.Muted.Render(key+":"), value)
}

// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Console input readers. The interactive reader gives line editing and
// history on a terminal; the stdin reader keeps piped and scripted input
// working with the same interface.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// maxHistory bounds the in-memory input history of one console session.
const maxHistory = 100

// InputReader reads one line of user input per call. Implementations
// return io.EOF when input is exhausted or the user asked to leave.
type InputReader interface {
	ReadLine() (string, error)
}

// NewInputReader returns the line-editing reader when stdin is a
// terminal and the plain bufio reader everywhere else, so
// `echo "question" | nl2sqlctl console` behaves.
func NewInputReader(prompt string) InputReader {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return NewStdinReader(prompt)
	}
	return &InteractiveReader{prompt: prompt}
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader reads lines from stdin with no editing support. It prints
// the prompt only when stdin is a terminal, so piped transcripts stay
// clean.
type StdinReader struct {
	reader *bufio.Reader
	prompt string
	tty    bool
}

// NewStdinReader creates a reader over os.Stdin.
func NewStdinReader(prompt string) *StdinReader {
	fd := os.Stdin.Fd()
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
		prompt: prompt,
		tty:    isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

// ReadLine blocks until one full line arrives. A final line without a
// trailing newline is still delivered before io.EOF.
func (r *StdinReader) ReadLine() (string, error) {
	if r.prompt != "" && r.tty {
		fmt.Fprint(os.Stderr, r.prompt)
	}

	line, err := r.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveReader Implementation
// =============================================================================

// InteractiveReader provides line editing and arrow-key history using a
// short-lived bubbletea program per line. The program renders on stderr
// so stdout carries only results.
//
// Not safe for concurrent ReadLine calls; the console runs one at a time.
type InteractiveReader struct {
	prompt  string
	history []string
}

// ReadLine runs one input program and returns the entered line. Ctrl+C
// clears the line and returns it empty; Ctrl+D returns io.EOF.
func (r *InteractiveReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	model := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	final, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("input program: %w", err)
	}

	m, ok := final.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected final model type %T", final)
	}
	if m.cancelled {
		return "", io.EOF
	}

	line := strings.TrimSpace(m.textInput.Value())
	r.remember(line)
	return line, nil
}

// remember appends line to the history, skipping blanks and immediate
// repeats, keeping at most maxHistory entries.
func (r *InteractiveReader) remember(line string) {
	if line == "" {
		return
	}
	if n := len(r.history); n > 0 && r.history[n-1] == line {
		return
	}
	r.history = append(r.history, line)
	if len(r.history) > maxHistory {
		r.history = r.history[len(r.history)-maxHistory:]
	}
}

// =============================================================================
// Input Model
// =============================================================================

// inputModel is the bubbletea model behind one ReadLine call.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int    // -1 while not navigating history
	currentInput string // draft saved while navigating
	done         bool
	cancelled    bool
}

// Init starts the cursor blink.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles submission, cancellation, and history navigation.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			// Clear the line and hand back an empty read
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			// EOF - leave the console
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			// Save the draft when first entering history
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				// Back past the newest entry restores the draft
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input prompt, or nothing once the line is submitted.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

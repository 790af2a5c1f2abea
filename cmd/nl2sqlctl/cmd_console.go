// Copyright (C) 2025 Datasulting (dev@datasulting.fr)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/datasulting/nl2sql/pkg/ux"
	"github.com/datasulting/nl2sql/services/translator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	consoleProvider string
	consoleExplain  bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive translation console",
	Long: `Open an interactive console that translates questions as you type them.

Each line is sent to the server's translate endpoint. Generated SQL prints
to stdout with a trailing "--" comment line carrying status and provenance,
so a captured transcript stays pasteable into a SQL client.

Commands inside the console:
  :help              show this list
  :provider [name]   show or set the generation provider for this session
  :explain on|off    toggle plain-language explanations
  :suggest <text>    list stored questions similar to the text
  :quit              leave the console (Ctrl+D also works)

Arrow keys navigate the input history. Piped stdin works too: each line
is translated in order and the console exits at end of input.`,
	Run: runConsoleCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	consoleCmd.Flags().StringVarP(&consoleProvider, "provider", "p", "",
		"Generation provider to start the session with")
	consoleCmd.Flags().BoolVar(&consoleExplain, "explain", false,
		"Request plain-language explanations with each translation")

	rootCmd.AddCommand(consoleCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runConsoleCommand(cmd *cobra.Command, args []string) {
	client := newAPIClient()

	ux.Title("nl2sql console")
	ux.Detail(fmt.Sprintf("Server: %s", client.baseURL))
	ux.Detail("Type a question, :help for commands, Ctrl+D to quit.")

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if health, err := client.Health(pingCtx); err != nil {
		ux.Warning(fmt.Sprintf("Server unreachable: %v", err))
	} else if health.Status != "healthy" {
		ux.Warning("Server reports degraded health, translations may fail")
	}
	cancel()

	session := &consoleSession{
		client:   client,
		reader:   NewInputReader("nl2sql> "),
		out:      os.Stdout,
		provider: consoleProvider,
		explain:  consoleExplain,
	}

	if err := session.Run(context.Background()); err != nil {
		ux.Error(fmt.Sprintf("Console failed: %v", err))
		os.Exit(1)
	}
}

// consoleSession holds the state of one interactive run. The reader and
// writer are injected so tests can drive a session without a terminal.
type consoleSession struct {
	client   *apiClient
	reader   InputReader
	out      io.Writer
	provider string
	explain  bool
}

// Run reads lines until EOF, :quit, or context cancellation. Translation
// failures are reported and the loop continues.
func (s *consoleSession) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				ux.Detail("Bye.")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			if quit := s.handleCommand(ctx, line); quit {
				ux.Detail("Bye.")
				return nil
			}
			continue
		}

		s.translate(ctx, line)
	}
}

// handleCommand dispatches one ":" command. Returns true when the
// session should end.
func (s *consoleSession) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)

	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true

	case ":help", ":h":
		s.printHelp()

	case ":suggest":
		text := strings.TrimSpace(strings.TrimPrefix(line, ":suggest"))
		if text == "" {
			ux.Warning("Usage: :suggest <question fragment>")
			break
		}
		s.suggest(ctx, text)

	case ":provider":
		if len(fields) < 2 {
			if s.provider == "" {
				ux.Info("Provider: server default chain")
			} else {
				ux.Info(fmt.Sprintf("Provider: %s", s.provider))
			}
			break
		}
		if fields[1] == "default" {
			s.provider = ""
			ux.Info("Provider reset to the server default chain")
			break
		}
		s.provider = fields[1]
		ux.Info(fmt.Sprintf("Provider set to %s", s.provider))

	case ":explain":
		if len(fields) < 2 || (fields[1] != "on" && fields[1] != "off") {
			ux.Warning("Usage: :explain on|off")
			break
		}
		s.explain = fields[1] == "on"
		if s.explain {
			ux.Info("Explanations on")
		} else {
			ux.Info("Explanations off")
		}

	default:
		ux.Warning(fmt.Sprintf("Unknown command %s, try :help", fields[0]))
	}

	return false
}

func (s *consoleSession) printHelp() {
	ux.Info("Commands:")
	ux.Detail("  :help              show this list")
	ux.Detail("  :provider [name]   show or set the generation provider, \"default\" resets")
	ux.Detail("  :explain on|off    toggle plain-language explanations")
	ux.Detail("  :suggest <text>    list stored questions similar to the text")
	ux.Detail("  :quit              leave the console")
}

// suggest lists stored questions similar to the given text, so a user can
// discover what the index already answers before phrasing their own.
func (s *consoleSession) suggest(ctx context.Context, text string) {
	reqCtx, cancel := context.WithTimeout(ctx, resolveTimeout())
	defer cancel()

	response, err := s.client.Suggestions(reqCtx, datatypes.SuggestionsRequest{
		Question: text,
		Limit:    5,
	})
	if err != nil {
		ux.Error(fmt.Sprintf("Suggestions failed: %v", err))
		return
	}
	if len(response.Suggestions) == 0 {
		ux.Info("No similar stored questions yet.")
		return
	}

	ux.Info("Similar stored questions:")
	for i, match := range response.Suggestions {
		ux.Detail(fmt.Sprintf("  %d. %s (%.0f%% similar)", i+1, match.Question, match.Certainty*100))
	}
}

// translate sends one question and prints the outcome. Errors are
// reported on stderr; the session keeps running.
func (s *consoleSession) translate(ctx context.Context, question string) {
	reqCtx, cancel := context.WithTimeout(ctx, resolveTimeout())
	defer cancel()

	request := datatypes.TranslationRequest{
		RequestID:          uuid.NewString(),
		Timestamp:          time.Now().UnixMilli(),
		Question:           question,
		Provider:           s.provider,
		IncludeExplanation: s.explain,
	}

	response, err := s.runTranslation(reqCtx, cancel, request)
	if err != nil {
		var remote *apiError
		switch {
		case errors.Is(err, context.Canceled):
			ux.Warning("Cancelled.")
		case errors.As(err, &remote):
			ux.Error(remote.Error())
		default:
			ux.Error(fmt.Sprintf("Translation failed: %v", err))
		}
		return
	}

	s.printResponse(response)
}

// printResponse writes the SQL and a "--" provenance comment to the
// session writer, keeping the transcript valid SQL.
func (s *consoleSession) printResponse(response *datatypes.TranslationResponse) {
	fmt.Fprintln(s.out, ux.RenderSQL(response.SQL))

	parts := []string{response.Status, response.Source}
	if response.Provider != "" {
		parts[1] += " via " + response.Provider
	}
	if response.CacheHit {
		parts = append(parts, "cache hit")
	}
	parts = append(parts, fmt.Sprintf("%dms", response.ProcessingTimeMs))
	fmt.Fprintf(s.out, "-- %s\n", strings.Join(parts, ", "))

	if response.Validation != nil && response.Validation.Reason != "" {
		ux.Detail(response.Validation.Reason)
	}
	if response.Explanation != "" {
		fmt.Fprintf(s.out, "-- %s\n", response.Explanation)
	}
}

// runTranslation performs the request behind an animated spinner, or
// directly in plain mode. Ctrl+C while waiting cancels the request.
func (s *consoleSession) runTranslation(ctx context.Context, cancel context.CancelFunc, request datatypes.TranslationRequest) (*datatypes.TranslationResponse, error) {
	if ux.IsPlain() {
		return s.client.Translate(ctx, request)
	}

	model := waitModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(ux.Styles.Highlight),
		),
		cancel: cancel,
		start: func() tea.Msg {
			response, err := s.client.Translate(ctx, request)
			return translationDoneMsg{response: response, err: err}
		},
	}

	final, err := tea.NewProgram(model, tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return nil, fmt.Errorf("spinner program: %w", err)
	}

	m, ok := final.(waitModel)
	if !ok {
		return nil, fmt.Errorf("unexpected final model type %T", final)
	}
	return m.result.response, m.result.err
}

// =============================================================================
// WAIT MODEL
// =============================================================================

// translationDoneMsg carries the finished request back into the wait
// program.
type translationDoneMsg struct {
	response *datatypes.TranslationResponse
	err      error
}

// waitModel animates a spinner while one translation request is in
// flight. Ctrl+C cancels the request context; the quit still arrives
// through translationDoneMsg once the client call returns.
type waitModel struct {
	spinner spinner.Model
	start   tea.Cmd
	cancel  context.CancelFunc
	result  translationDoneMsg
	done    bool
}

// Init starts the spinner ticks and fires the request.
func (m waitModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start)
}

// Update collects the request result and keeps the spinner ticking.
func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case translationDoneMsg:
		m.result = msg
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancel()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the spinner line, or nothing once the result arrived.
func (m waitModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " Translating"
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"portfolioagent/config"
	"portfolioagent/internal/fetcher"
	"portfolioagent/internal/tools"
)

// PrintTools writes the tool definitions the assistant is configured with.
func PrintTools(w io.Writer) error {
	data, err := json.MarshalIndent(tools.SpecsToAPIDefinitions(tools.Specs()), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// FetchPage prints the visible text of url, with a spinner on terminals.
func FetchPage(ctx context.Context, settings *config.Settings, url string, w io.Writer) error {
	f := fetcher.New(
		fetcher.WithTimeout(settings.Fetch.Timeout),
		fetcher.WithUserAgent(userAgent(settings)),
	)

	var text string
	var fetchErr error
	started := time.Now()
	action := func() { text, fetchErr = f.Fetch(ctx, url) }

	if term.IsTerminal(int(os.Stdout.Fd())) {
		err := spinner.New().
			Title("Fetching " + url).
			Style(lipgloss.NewStyle().MarginLeft(1).Foreground(lipgloss.Color("#f7c0af"))).
			Action(action).
			Run()
		if err != nil {
			return err
		}
	} else {
		action()
	}
	if fetchErr != nil {
		return fetchErr
	}

	fmt.Fprintln(w, text)
	fmt.Fprintf(os.Stderr, "fetched %d characters in %s\n", len(text), time.Since(started).Round(time.Millisecond))
	return nil
}

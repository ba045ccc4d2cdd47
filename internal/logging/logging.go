// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"portfolioagent/config"
)

// Console sends human-readable logs to stderr.
func Console(level string) {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	setup(writer, level)
}

// File appends JSON logs to the agent log file under the config directory.
// Terminal UIs use it so log lines never land on the alternate screen.
func File(level string) (io.Closer, error) {
	path, err := config.GetLogPath()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	setup(f, level)
	return f, nil
}

// To points the global logger at w. Tests use it to capture output.
func To(w io.Writer, level string) {
	setup(w, level)
}

func setup(w io.Writer, level string) {
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	SetLevel(level)
}

// SetLevel changes the global level; unknown names fall back to info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"portfolioagent/internal/llm"
	"portfolioagent/internal/session"
)

// Ask runs a single turn and streams the reply to w as it arrives.
func Ask(ctx context.Context, engine *llm.Engine, sess *session.Session, question string, w io.Writer) (llm.Outcome, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return llm.Outcome{}, fmt.Errorf("question cannot be empty")
	}
	release, err := sess.BeginTurn()
	if err != nil {
		return llm.Outcome{}, err
	}
	defer release()

	out := engine.Reply(ctx, sess, question, &llm.Observer{
		Delta: func(text string) { fmt.Fprint(w, text) },
	})
	switch out.State {
	case llm.StateError:
		fmt.Fprint(w, out.Text)
	case llm.StateTimedOut:
		fmt.Fprint(w, "\n[reply cut short]")
	}
	fmt.Fprintln(w)
	return out, nil
}

// REPL chats line by line over plain streams until EOF or "exit".
func REPL(ctx context.Context, engine *llm.Engine, sess *session.Session, in io.Reader, w io.Writer) error {
	fmt.Fprintf(w, "%s\n\n%s\n\n", session.Title, session.Greeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if _, err := Ask(ctx, engine, sess, line, w); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

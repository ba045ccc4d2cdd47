package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"portfolioagent/internal/llm"
	"portfolioagent/internal/session"
	"portfolioagent/version"
)

type errorResponse struct {
	Error string `json:"error"`
}

type sessionResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Greeting    string `json:"greeting"`
	Placeholder string `json:"placeholder"`
}

type transcriptResponse struct {
	ID       string          `json:"id"`
	ThreadID string          `json:"thread_id,omitempty"`
	Messages []session.Entry `json:"messages"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type deltaEvent struct {
	Text string `json:"text"`
}

type doneEvent struct {
	Text  string `json:"text"`
	State string `json:"state"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Get(),
	})
}

func (s *Server) createSession(c echo.Context) error {
	sess, err := s.sessions.Create(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("create session")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "the assistant is unavailable"})
	}
	return c.JSON(http.StatusCreated, sessionResponse{
		ID:          sess.ID,
		Title:       session.Title,
		Greeting:    session.Greeting,
		Placeholder: session.Placeholder,
	})
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
}

func (s *Server) listMessages(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, transcriptResponse{
		ID:       sess.ID,
		ThreadID: sess.ThreadID(),
		Messages: sess.Transcript(),
	})
}

func (s *Server) deleteSession(c echo.Context) error {
	if !s.sessions.Delete(c.Param("id")) {
		return notFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

// postMessage runs one turn and streams it back as server-sent events:
// a "delta" per text fragment and a final "done".
func (s *Server) postMessage(c echo.Context) error {
	sess, ok := s.sessions.Get(c.Param("id"))
	if !ok {
		return notFound(c)
	}

	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "content is required"})
	}

	release, err := sess.BeginTurn()
	if errors.Is(err, session.ErrTurnInProgress) {
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}
	if err != nil {
		return err
	}
	defer release()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	// A visitor leaving mid-reply does not stop the turn; the engine's
	// budget is the only limit on it.
	ctx := context.WithoutCancel(c.Request().Context())

	sse := &eventWriter{res: res}
	out := s.engine.Reply(ctx, sess, content, &llm.Observer{
		Delta: func(text string) { sse.send("delta", deltaEvent{Text: text}) },
	})
	sse.send("done", doneEvent{Text: out.Text, State: out.State.String()})
	return nil
}

type eventWriter struct {
	res    *echo.Response
	broken bool
}

// send writes one event. After the first write error, for example a client
// that went away, later events are dropped and the turn still completes.
func (w *eventWriter) send(name string, payload any) {
	if w.broken {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("encode event")
		return
	}
	if _, err := fmt.Fprintf(w.res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		log.Debug().Err(err).Msg("client gone; dropping events")
		w.broken = true
		return
	}
	w.res.Flush()
}

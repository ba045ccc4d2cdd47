// Package session holds per-visitor conversation state: the remote thread,
// the local transcript and the lock that keeps turns sequential.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"portfolioagent/internal/assistant"
)

const (
	Title       = "Brad Kenstler's Portfolio Agent"
	Placeholder = "Tell me about Brad's experience in Applied AI."
	Greeting    = "Hi, I'm Brad Kenstler's website agent.\n\n" +
		"I can answer any questions you may have about Brad's:\n" +
		"* work experience\n" +
		"* resume\n" +
		"* project portfolio\n\n" +
		"I can also help you get in touch with him.\n\n" +
		"How can I assist you today?"
)

// ErrTurnInProgress is returned when a second turn starts on a session
// whose previous turn has not finished.
var ErrTurnInProgress = errors.New("a reply is already in progress for this session")

// Entry is one transcript line.
type Entry struct {
	Role    assistant.Role `json:"role"`
	Content string         `json:"content"`
	At      time.Time      `json:"at"`
}

// Session owns one remote thread. The thread is created on first use and
// never replaced afterwards.
type Session struct {
	ID string

	peer        assistant.Peer
	assistantID string
	now         func() time.Time

	turn sync.Mutex
	busy atomic.Bool

	mu         sync.Mutex
	threadID   string
	info       assistant.Assistant
	transcript []Entry
}

func New(peer assistant.Peer, assistantID string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		peer:        peer,
		assistantID: assistantID,
		now:         time.Now,
	}
	s.transcript = []Entry{{Role: assistant.RoleAssistant, Content: Greeting, At: s.now()}}
	return s
}

// Open checks that the configured assistant exists.
func (s *Session) Open(ctx context.Context) error {
	info, err := s.peer.RetrieveAssistant(ctx, s.assistantID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	log.Debug().Str("session", s.ID).Str("assistant", info.ID).Str("model", info.Model).Msg("session opened")
	return nil
}

func (s *Session) AssistantID() string { return s.assistantID }

func (s *Session) Assistant() assistant.Assistant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// ThreadID returns the thread identifier, or "" before the first message.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// EnsureThread returns the session's thread, creating it on first call.
func (s *Session) EnsureThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != "" {
		return s.threadID, nil
	}
	id, err := s.peer.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	s.threadID = id
	log.Info().Str("session", s.ID).Str("thread", id).Msg("thread created")
	return id, nil
}

// AddUserMessage appends text to the remote thread and the transcript and
// returns the thread it was appended to.
func (s *Session) AddUserMessage(ctx context.Context, text string) (string, error) {
	threadID, err := s.EnsureThread(ctx)
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	if err := s.peer.CreateMessage(ctx, threadID, assistant.RoleUser, text); err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	s.record(assistant.RoleUser, text)
	return threadID, nil
}

// RecordReply appends the assistant's reply to the transcript.
func (s *Session) RecordReply(text string) {
	s.record(assistant.RoleAssistant, text)
}

func (s *Session) record(role assistant.Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, Entry{Role: role, Content: text, At: s.now()})
}

// Transcript returns a copy of the conversation so far, greeting first.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// BeginTurn claims the session for one user turn. The returned release
// must be called when the turn ends.
func (s *Session) BeginTurn() (func(), error) {
	if !s.turn.TryLock() {
		return nil, ErrTurnInProgress
	}
	s.busy.Store(true)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.busy.Store(false)
			s.turn.Unlock()
		})
	}, nil
}

// Busy reports whether a turn is running.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

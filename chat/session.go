package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInputDisabled is returned by Send while the user is not entitled.
	ErrInputDisabled = errors.New("chat input is disabled")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// Greeting is shown while the conversation has no visible messages.
const Greeting = "Hello, How can I help you today?"

// Entitlement is the only thing the chat needs from the paywall.
type Entitlement interface {
	IsEntitled() bool
}

// Assistant produces the reply to the conversation so far.
type Assistant interface {
	Reply(ctx context.Context, history []Message) (string, error)
}

// Session binds a conversation to an assistant behind an entitlement check.
type Session struct {
	gate      Entitlement
	assistant Assistant
	convo     *Conversation
	logger    zerolog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSystemPrompt seeds the conversation with a system message.
// System messages are sent to the assistant but never displayed.
func WithSystemPrompt(prompt string) SessionOption {
	return func(s *Session) {
		s.convo.Append(NewMessage(RoleSystem, prompt))
	}
}

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func NewSession(gate Entitlement, assistant Assistant, opts ...SessionOption) *Session {
	s := &Session{
		gate:      gate,
		assistant: assistant,
		convo:     NewConversation(),
		logger:    log.With().Str("component", "chat").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InputEnabled reports whether the user may send messages.
func (s *Session) InputEnabled() bool {
	return s.gate != nil && s.gate.IsEntitled()
}

// Send appends the user's text, asks the assistant and appends its reply.
// The user message is kept even if the assistant fails.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	if !s.InputEnabled() {
		return Message{}, ErrInputDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.convo.Append(NewMessage(RoleUser, text))

	reply, err := s.assistant.Reply(ctx, s.convo.Messages())
	if err != nil {
		s.logger.Warn().Err(err).Msg("assistant reply failed")
		return Message{}, fmt.Errorf("assistant reply: %w", err)
	}

	m := NewMessage(RoleAssistant, reply)
	s.convo.Append(m)
	return m, nil
}

// Visible returns the messages to render.
func (s *Session) Visible() []Message {
	return s.convo.Visible()
}

// Placeholder returns the greeting while nothing is displayed yet.
func (s *Session) Placeholder() (string, bool) {
	if len(s.convo.Visible()) > 0 {
		return "", false
	}
	return Greeting, true
}

// EchoAssistant repeats the last user message. Used by the examples.
type EchoAssistant struct{}

func (EchoAssistant) Reply(ctx context.Context, history []Message) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return "You said: " + history[i].Content, nil
		}
	}
	return Greeting, nil
}

package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEntitlement bool

func (s staticEntitlement) IsEntitled() bool { return bool(s) }

type failingAssistant struct{ err error }

func (f failingAssistant) Reply(ctx context.Context, history []Message) (string, error) {
	return "", f.err
}

type recordingAssistant struct {
	history []Message
}

func (r *recordingAssistant) Reply(ctx context.Context, history []Message) (string, error) {
	r.history = history
	return "noted", nil
}

func TestSessionRequiresEntitlement(t *testing.T) {
	s := NewSession(staticEntitlement(false), EchoAssistant{}, WithLogger(zerolog.Nop()))
	assert.False(t, s.InputEnabled())

	_, err := s.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrInputDisabled)
	assert.Empty(t, s.Visible())

	s = NewSession(nil, EchoAssistant{})
	assert.False(t, s.InputEnabled())
}

func TestSessionSend(t *testing.T) {
	ctx := context.Background()
	assistant := &recordingAssistant{}
	s := NewSession(staticEntitlement(true), assistant,
		WithSystemPrompt("You are a course advisor."),
		WithLogger(zerolog.Nop()),
	)

	greeting, ok := s.Placeholder()
	assert.True(t, ok)
	assert.Equal(t, Greeting, greeting)

	_, err := s.Send(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	reply, err := s.Send(ctx, "  Which class next term?  ")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, reply.Role)
	assert.Equal(t, "noted", reply.Content)
	assert.NotEmpty(t, reply.ID)

	// The assistant sees the system prompt, the user does not.
	require.Len(t, assistant.history, 2)
	assert.Equal(t, RoleSystem, assistant.history[0].Role)
	assert.Equal(t, "Which class next term?", assistant.history[1].Content)

	visible := s.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, RoleUser, visible[0].Role)
	assert.Equal(t, RoleAssistant, visible[1].Role)

	_, ok = s.Placeholder()
	assert.False(t, ok)
}

func TestSessionAssistantError(t *testing.T) {
	cause := errors.New("backend unavailable")
	s := NewSession(staticEntitlement(true), failingAssistant{err: cause}, WithLogger(zerolog.Nop()))

	_, err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, cause)

	visible := s.Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, RoleUser, visible[0].Role)
}

func TestEchoAssistant(t *testing.T) {
	ctx := context.Background()

	reply, err := EchoAssistant{}.Reply(ctx, []Message{
		NewMessage(RoleSystem, "prompt"),
		NewMessage(RoleUser, "first"),
		NewMessage(RoleAssistant, "ok"),
		NewMessage(RoleUser, "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, "You said: second", reply)

	reply, err = EchoAssistant{}.Reply(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Greeting, reply)
}

func TestConversationVisible(t *testing.T) {
	c := NewConversation(NewMessage(RoleSystem, "hidden"))
	c.Append(NewMessage(RoleUser, "shown"))

	assert.Len(t, c.Messages(), 2)
	visible := c.Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, "shown", visible[0].Content)
}

// Package chat holds the minimal assistant chat that sits behind the paywall.
// It only consumes the gate's boolean entitlement signal.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Conversation is an ordered, goroutine-safe message log.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
}

func NewConversation(seed ...Message) *Conversation {
	c := &Conversation{}
	c.messages = append(c.messages, seed...)
	return c
}

func (c *Conversation) Append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// Messages returns a copy of every message, system messages included.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Visible returns the messages shown to the user: everything but system messages.
func (c *Conversation) Visible() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

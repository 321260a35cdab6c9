// Package session is the client's category store. All mutation goes through
// Store; persistence to the server is fire-and-forget.
package session

import (
	"time"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// Status is what a category is doing right now.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing" // Waiting on transcription or a provider
	StatusSpeaking   Status = "speaking"   // Its reply is playing
	StatusReady      Status = "ready"      // Background reply waiting to be heard
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a category's history.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Text      string            `json:"text"`
	Source    protocol.Provider `json:"source,omitempty"`
	Pending   bool              `json:"pending,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// PendingSpeech is a reply held for a background category until it is selected.
type PendingSpeech struct {
	Text      string
	MessageID string
}

// Category is one conversation context.
type Category struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Order             int               `json:"order"`
	Messages          []Message         `json:"messages"`
	ActiveProvider    protocol.Provider `json:"activeProvider"`
	DirectoryPath     string            `json:"directoryPath,omitempty"`
	ProjectContext    string            `json:"projectContext,omitempty"`
	Status            Status            `json:"-"`
	SpeakingMessageID string            `json:"-"`
	PendingSpeech     *PendingSpeech    `json:"-"`
	PendingPlanID     string            `json:"-"`
}

// clone returns a deep copy safe to hand outside the store lock.
func (c *Category) clone() Category {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	if c.PendingSpeech != nil {
		ps := *c.PendingSpeech
		out.PendingSpeech = &ps
	}
	return out
}

// PendingUser returns the pending user message, if any.
func (c *Category) PendingUser() (*Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if m := &c.Messages[i]; m.Role == RoleUser && m.Pending {
			return m, true
		}
	}
	return nil, false
}

// FindMessage returns the message with id.
func (c *Category) FindMessage(id string) (*Message, bool) {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i], true
		}
	}
	return nil, false
}

// AssistantReplies returns non-pending assistant messages, oldest first.
func (c *Category) AssistantReplies() []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.Role == RoleAssistant && !m.Pending {
			out = append(out, m)
		}
	}
	return out
}

// History returns up to n of the most recent non-pending messages as
// protocol turns in chronological order. n <= 0 returns everything.
func (c *Category) History(n int) []protocol.Turn {
	var turns []protocol.Turn
	for _, m := range c.Messages {
		if m.Pending || m.Text == "" {
			continue
		}
		turns = append(turns, protocol.Turn{Role: string(m.Role), Text: m.Text, Source: m.Source})
	}
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

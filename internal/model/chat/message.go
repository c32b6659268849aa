package chat

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// Roles accepted in a conversation.
const (
	RoleUser      = schema.User
	RoleAssistant = schema.Assistant
)

// Message is one turn of a conversation as shown to the user.
type Message struct {
	ID          string          `json:"id"`
	Role        schema.RoleType `json:"role"`
	Content     string          `json:"content"`
	Attachments []string        `json:"attachments,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	// Final is set once the content can no longer change.
	Final bool `json:"final"`
	// Failed marks the terminal notice appended when a stream breaks.
	Failed bool `json:"failed,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]string(nil), m.Attachments...)
	}
	return m
}

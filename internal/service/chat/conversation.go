package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/dogwood/dashboard-client/internal/model/chat"
)

// FailureNotice is the terminal assistant message shown when a reply stream breaks.
const FailureNotice = "Something went wrong while communicating with the AI. Please try again later."

// PartialPolicy decides what happens to already streamed text when the stream fails.
type PartialPolicy int

const (
	// DiscardPartial replaces the half-written reply with the failure notice.
	DiscardPartial PartialPolicy = iota
	// PreservePartial freezes the half-written reply and appends the notice after it.
	PreservePartial
)

// EventType names a conversation change.
type EventType string

const (
	EventUserMessage EventType = "user"
	EventDelta       EventType = "delta"
	EventComplete    EventType = "complete"
	EventFailed      EventType = "failed"
	EventCleared     EventType = "cleared"
)

// Event is published to subscribers in the order changes are applied.
type Event struct {
	Seq       uint64         `json:"seq"`
	Type      EventType      `json:"type"`
	MessageID string         `json:"messageId,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Message   *model.Message `json:"message,omitempty"`
}

// Conversation is the ordered message list of one chat view. Insertion order is display
// order. At most one assistant placeholder is open at a time, and it is always last.
type Conversation struct {
	mu       sync.Mutex
	messages []model.Message
	open     bool
	policy   PartialPolicy
	now      func() time.Time

	seq  uint64
	subs map[string]chan Event
}

// NewConversation creates an empty conversation.
func NewConversation(policy PartialPolicy) *Conversation {
	return &Conversation{
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		subs:   make(map[string]chan Event),
	}
}

// AppendUserMessage records the user's message and opens an empty assistant placeholder
// for the reply. It returns the placeholder id.
func (c *Conversation) AppendUserMessage(text string, attachments []string) (string, error) {
	_, placeholderID, err := c.appendExchange(text, attachments)
	return placeholderID, err
}

func (c *Conversation) appendExchange(text string, attachments []string) (userID, placeholderID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return "", "", ErrStreamInFlight
	}

	now := c.now()
	user := model.Message{
		ID:          uuid.NewString(),
		Role:        model.RoleUser,
		Content:     text,
		Attachments: append([]string(nil), attachments...),
		Timestamp:   now,
		Final:       true,
	}
	placeholder := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleAssistant,
		Timestamp: now,
	}
	c.messages = append(c.messages, user, placeholder)
	c.open = true

	c.publishLocked(Event{Type: EventUserMessage, MessageID: user.ID, Message: snapshot(user)})
	return user.ID, placeholder.ID, nil
}

// ApplyChunk appends text to the open placeholder. Calling it with no open placeholder
// panics with *InvariantViolation and changes nothing.
func (c *Conversation) ApplyChunk(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.openPlaceholderLocked("ApplyChunk")
	if text == "" {
		return
	}
	last.Content += text
	c.publishLocked(Event{Type: EventDelta, MessageID: last.ID, Delta: text})
}

// CompleteStream freezes the open placeholder.
func (c *Conversation) CompleteStream() {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.openPlaceholderLocked("CompleteStream")
	last.Final = true
	c.open = false
	c.publishLocked(Event{Type: EventComplete, MessageID: last.ID, Message: snapshot(*last)})
}

// FailStream closes the open placeholder after a transport failure, leaving exactly one
// terminal notice instead of a half-written reply (or after it, under PreservePartial).
func (c *Conversation) FailStream(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := c.openPlaceholderLocked("FailStream")
	keep := c.policy == PreservePartial && last.Content != ""

	if keep {
		last.Final = true
	} else {
		c.messages = c.messages[:len(c.messages)-1]
	}
	c.open = false

	notice := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleAssistant,
		Content:   FailureNotice,
		Timestamp: c.now(),
		Final:     true,
		Failed:    true,
	}
	c.messages = append(c.messages, notice)
	c.publishLocked(Event{Type: EventFailed, MessageID: notice.ID, Message: snapshot(notice)})
}

// Clear drops every message. It refuses while a reply is streaming.
func (c *Conversation) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return ErrStreamInFlight
	}
	c.messages = nil
	c.publishLocked(Event{Type: EventCleared})
	return nil
}

// Streaming reports whether a placeholder is open.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Messages returns a copy of the conversation.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messagesLocked()
}

func (c *Conversation) messagesLocked() []model.Message {
	out := make([]model.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Subscribe registers a listener. Events arrive in apply order; a listener that falls more
// than buffer events behind is dropped and its channel closed.
func (c *Conversation) Subscribe(buffer int) (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeLocked(buffer)
}

// Snapshot is the conversation as of event Seq.
type Snapshot struct {
	Seq       uint64          `json:"seq"`
	Messages  []model.Message `json:"messages"`
	Streaming bool            `json:"streaming"`
}

// SubscribeWithSnapshot copies the conversation and registers a listener atomically: every
// event on the channel has a Seq greater than the snapshot's, and none is already
// reflected in it.
func (c *Conversation) SubscribeWithSnapshot(buffer int) (Snapshot, <-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{Seq: c.seq, Messages: c.messagesLocked(), Streaming: c.open}
	ch, cancel := c.subscribeLocked(buffer)
	return snap, ch, cancel
}

func (c *Conversation) subscribeLocked(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	ch := make(chan Event, buffer)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

func (c *Conversation) openPlaceholderLocked(op string) *model.Message {
	if !c.open || len(c.messages) == 0 {
		panic(&InvariantViolation{Op: op})
	}
	last := &c.messages[len(c.messages)-1]
	if last.Role != model.RoleAssistant || last.Final {
		panic(&InvariantViolation{Op: op})
	}
	return last
}

func (c *Conversation) publishLocked(ev Event) {
	c.seq++
	ev.Seq = c.seq
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			delete(c.subs, id)
			close(ch)
		}
	}
}

func snapshot(m model.Message) *model.Message {
	cp := m.Clone()
	return &cp
}

package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Sender is the outbound half of a chat exchange.
type Sender interface {
	Send(ctx context.Context, model, text string, attachments []Attachment) (*schema.StreamReader[[]byte], error)
}

// SessionInvalidator is told when the backend rejects a session token. It must only
// drop the session while that token is still the current one.
type SessionInvalidator interface {
	ClearIfToken(token string) (bool, error)
}

// Service drives one exchange end to end: it opens the placeholder, sends the prompt and
// feeds the decoded reply into the conversation chunk by chunk, in arrival order.
type Service struct {
	sender   Sender
	sessions SessionInvalidator
}

// NewService creates a chat service. sessions may be nil.
func NewService(sender Sender, sessions SessionInvalidator) *Service {
	return &Service{sender: sender, sessions: sessions}
}

// Exchange is one prompt and its streaming reply.
type Exchange struct {
	// UserMessageID identifies the user message that opened the exchange.
	UserMessageID string
	// ReplyID identifies the assistant placeholder.
	ReplyID string

	done chan error
}

// Wait blocks until the reply has completed or failed.
func (e *Exchange) Wait() error {
	return <-e.done
}

// Send appends the user's message and streams the assistant reply into conv. It returns
// once the reply is complete or has failed; failures are already reflected in conv.
func (s *Service) Send(ctx context.Context, conv *Conversation, model, text string, attachments []Attachment) error {
	ex, err := s.Start(ctx, conv, model, text, attachments)
	if err != nil {
		return err
	}
	return ex.Wait()
}

// Start appends the user's message synchronously and streams the reply in the
// background. It fails fast with ErrEmptyMessage or ErrStreamInFlight, leaving conv
// untouched. Attachment readers must stay readable until Wait returns.
func (s *Service) Start(ctx context.Context, conv *Conversation, model, text string, attachments []Attachment) (*Exchange, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	names := make([]string, len(attachments))
	for i, a := range attachments {
		names[i] = a.Name
	}

	userID, placeholderID, err := conv.appendExchange(text, names)
	if err != nil {
		return nil, err
	}

	ex := &Exchange{UserMessageID: userID, ReplyID: placeholderID, done: make(chan error, 1)}
	go func() {
		ex.done <- s.stream(ctx, conv, placeholderID, model, text, attachments)
	}()
	return ex, nil
}

func (s *Service) stream(ctx context.Context, conv *Conversation, placeholderID, model, text string, attachments []Attachment) error {
	stream, err := s.sender.Send(ctx, model, text, attachments)
	if err != nil {
		s.fail(conv, placeholderID, err)
		return err
	}
	defer stream.Close()

	dec := NewDecoder()
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			s.fail(conv, placeholderID, recvErr)
			return recvErr
		}
		if text := dec.Decode(chunk); text != "" {
			conv.ApplyChunk(text)
		}
	}

	if rest := dec.Flush(); rest != "" {
		conv.ApplyChunk(rest)
	}
	conv.CompleteStream()
	log.Printf("[chat] reply %s complete, model=%s", placeholderID, model)
	return nil
}

func (s *Service) fail(conv *Conversation, placeholderID string, err error) {
	log.Printf("[chat] reply %s failed: %v", placeholderID, err)
	conv.FailStream(err)

	token, unauthorized := rejectedToken(err)
	if !unauthorized || s.sessions == nil {
		return
	}
	cleared, clearErr := s.sessions.ClearIfToken(token)
	switch {
	case clearErr != nil:
		log.Printf("[chat] failed to clear rejected session: %v", clearErr)
	case cleared:
		log.Printf("[chat] backend rejected session token, session cleared")
	default:
		log.Printf("[chat] rejected token is no longer current, session kept")
	}
}

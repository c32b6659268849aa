package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/dogwood/dashboard-client/internal/model/chat"
	sessionModel "github.com/dogwood/dashboard-client/internal/model/session"
	"github.com/dogwood/dashboard-client/internal/service/session"
)

// scriptedSender replays fixed chunks and then an optional error.
type scriptedSender struct {
	chunks  [][]byte
	tailErr error
	sendErr error
	calls   int
}

func (s *scriptedSender) Send(_ context.Context, _, _ string, _ []Attachment) (*schema.StreamReader[[]byte], error) {
	s.calls++
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	reader, writer := schema.Pipe[[]byte](len(s.chunks) + 1)
	go func() {
		defer writer.Close()
		for _, c := range s.chunks {
			writer.Send(c, nil)
		}
		if s.tailErr != nil {
			writer.Send(nil, s.tailErr)
		}
	}()
	return reader, nil
}

type countingInvalidator struct {
	current string
	clears  int
}

func (c *countingInvalidator) ClearIfToken(token string) (bool, error) {
	if token == "" || token != c.current {
		return false, nil
	}
	c.clears++
	c.current = ""
	return true, nil
}

func TestServiceStreamsReplyIntoConversation(t *testing.T) {
	euro := []byte("€")
	sender := &scriptedSender{chunks: [][]byte{
		[]byte("Price: 5"), euro[:1], euro[1:], []byte(" today"),
	}}
	conv := NewConversation(DiscardPartial)

	err := NewService(sender, nil).Send(context.Background(), conv, "deepseek", "price?", nil)
	require.NoError(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Price: 5€ today", msgs[1].Content)
	assert.True(t, msgs[1].Final)
	assert.False(t, conv.Streaming())
}

func TestServiceTransportFailureBeforeAnyChunk(t *testing.T) {
	sender := &scriptedSender{sendErr: &StreamFailure{Kind: NetworkUnavailable}}
	conv := NewConversation(DiscardPartial)

	err := NewService(sender, nil).Send(context.Background(), conv, "deepseek", "hello", []Attachment{})
	require.Error(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, FailureNotice, msgs[1].Content)
	assert.True(t, msgs[1].Failed)
}

func TestServiceMidStreamFailureDiscardsPartial(t *testing.T) {
	sender := &scriptedSender{
		chunks:  [][]byte{[]byte("half")},
		tailErr: &StreamFailure{Kind: ConnectionLost, Err: io.ErrUnexpectedEOF},
	}
	conv := NewConversation(DiscardPartial)

	err := NewService(sender, nil).Send(context.Background(), conv, "deepseek", "hello", nil)
	require.Error(t, err)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, FailureNotice, msgs[1].Content)
}

func TestServiceRejectsEmptyMessage(t *testing.T) {
	sender := &scriptedSender{}
	conv := NewConversation(DiscardPartial)

	err := NewService(sender, nil).Send(context.Background(), conv, "deepseek", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, conv.Messages())
	assert.Zero(t, sender.calls)
}

func TestServiceAllowsAttachmentOnlyMessage(t *testing.T) {
	sender := &scriptedSender{chunks: [][]byte{[]byte("looks fine")}}
	conv := NewConversation(DiscardPartial)

	err := NewService(sender, nil).Send(context.Background(), conv, "deepseek", "", []Attachment{{Name: "q3.csv"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"q3.csv"}, conv.Messages()[0].Attachments)
}

func TestServiceUnauthorizedClearsSession(t *testing.T) {
	sender := &scriptedSender{sendErr: &StreamFailure{Kind: ServerAborted, Status: http.StatusUnauthorized, token: "tok"}}
	sessions := &countingInvalidator{current: "tok"}

	err := NewService(sender, sessions).Send(context.Background(), NewConversation(DiscardPartial), "deepseek", "hi", nil)
	require.Error(t, err)
	assert.Equal(t, 1, sessions.clears)
}

func TestServiceServerErrorKeepsSession(t *testing.T) {
	sender := &scriptedSender{sendErr: &StreamFailure{Kind: ServerAborted, Status: http.StatusInternalServerError, token: "tok"}}
	sessions := &countingInvalidator{current: "tok"}

	_ = NewService(sender, sessions).Send(context.Background(), NewConversation(DiscardPartial), "deepseek", "hi", nil)
	assert.Zero(t, sessions.clears)
}

func TestServiceEndToEndOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, part := range []string{"Your ", "top ", "post ", "was ", "Tuesday."} {
			_, _ = io.WriteString(w, part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	conv := NewConversation(DiscardPartial)
	svc := NewService(NewTransport(srv.URL, srv.Client(), nil), nil)
	require.NoError(t, svc.Send(context.Background(), conv, "gpt-4", "best post?", nil))

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Your top post was Tuesday.", msgs[1].Content)
}

func TestServiceStartRejectsSecondSendWhileStreaming(t *testing.T) {
	reader, writer := schema.Pipe[[]byte](4)
	sender := &pipeSender{reader: reader}
	conv := NewConversation(DiscardPartial)
	svc := NewService(sender, nil)

	ex, err := svc.Start(context.Background(), conv, "deepseek", "first", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, ex.UserMessageID)
	assert.NotEqual(t, ex.UserMessageID, ex.ReplyID)

	_, err = svc.Start(context.Background(), conv, "deepseek", "second", nil)
	assert.ErrorIs(t, err, ErrStreamInFlight)

	writer.Send([]byte("done"), nil)
	writer.Close()
	require.NoError(t, ex.Wait())

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, ex.ReplyID, msgs[1].ID)
	assert.Equal(t, "done", msgs[1].Content)
}

type pipeSender struct {
	reader *schema.StreamReader[[]byte]
}

func (p *pipeSender) Send(context.Context, string, string, []Attachment) (*schema.StreamReader[[]byte], error) {
	return p.reader, nil
}

func TestServiceStaleUnauthorizedKeepsNewerSession(t *testing.T) {
	sender := &scriptedSender{sendErr: &StreamFailure{Kind: ServerAborted, Status: http.StatusUnauthorized, token: "old"}}
	sessions := &countingInvalidator{current: "fresh"}

	err := NewService(sender, sessions).Send(context.Background(), NewConversation(DiscardPartial), "deepseek", "hi", nil)
	require.Error(t, err)
	assert.Zero(t, sessions.clears)
	assert.Equal(t, "fresh", sessions.current)
}

func TestServiceUnauthorizedForOldTokenAfterRelogin(t *testing.T) {
	store := session.NewStore(sessionModel.NewMemoryRepository())
	require.NoError(t, store.Load(context.Background()))
	require.NoError(t, store.Set(sessionModel.Session{Token: "old", SessionID: "s1"}))

	arrived := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	svc := NewService(NewTransport(srv.URL, srv.Client(), store), store)
	ex, err := svc.Start(context.Background(), NewConversation(DiscardPartial), "deepseek", "hi", nil)
	require.NoError(t, err)

	<-arrived
	require.NoError(t, store.Set(sessionModel.Session{Token: "fresh", SessionID: "s2"}))
	close(release)

	require.Error(t, ex.Wait())
	assert.Equal(t, "fresh", store.Token())
}

package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func drain(t *testing.T, stream *schema.StreamReader[[]byte]) (string, error) {
	t.Helper()
	defer stream.Close()
	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.Write(chunk)
	}
}

func TestTransportSendsMultipartWithBearer(t *testing.T) {
	var gotPrompt, gotAuth, gotPath string
	var gotFiles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotPrompt = r.FormValue("prompt")
		for _, fh := range r.MultipartForm.File["files"] {
			gotFiles = append(gotFiles, fh.Filename)
		}
		flusher := w.(http.Flusher)
		for _, part := range []string{"Hel", "lo", "!"} {
			_, _ = io.WriteString(w, part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL, srv.Client(), staticToken("tok"))
	stream, err := tr.Send(context.Background(), "deepseek", "summarise", []Attachment{
		{Name: "report.csv", Reader: strings.NewReader("a,b\n1,2\n")},
		{Name: "logo.png", Reader: strings.NewReader("png")},
	})
	require.NoError(t, err)

	body, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello!", body)
	assert.Equal(t, "/ai/deepseek", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "summarise", gotPrompt)
	assert.Equal(t, []string{"report.csv", "logo.png"}, gotFiles)
}

func TestTransportOmitsBearerWhenSignedOut(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	stream, err := NewTransport(srv.URL, srv.Client(), staticToken("")).Send(context.Background(), "claude", "hi", nil)
	require.NoError(t, err)
	_, err = drain(t, stream)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestTransportNon2xxIsServerAborted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTransport(srv.URL, srv.Client(), nil).Send(context.Background(), "deepseek", "hi", nil)
	var f *StreamFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, ServerAborted, f.Kind)
	assert.Equal(t, http.StatusUnauthorized, f.Status)
	assert.Equal(t, "Invalid or expired token", f.Message)
	assert.True(t, IsUnauthorized(err))
}

func TestTransportRecordsRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTransport(srv.URL, srv.Client(), staticToken("tok")).Send(context.Background(), "deepseek", "hi", nil)
	token, ok := rejectedToken(err)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
}

func TestTransportConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	stream, err := NewTransport(url, nil, nil).Send(context.Background(), "deepseek", "hi", nil)
	assert.Nil(t, stream)
	var f *StreamFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, NetworkUnavailable, f.Kind)
	assert.False(t, IsUnauthorized(err))
}

func TestTransportAbruptTerminationIsConnectionLost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = io.WriteString(w, "partial")
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	stream, err := NewTransport(srv.URL, srv.Client(), nil).Send(context.Background(), "deepseek", "hi", nil)
	require.NoError(t, err)

	body, err := drain(t, stream)
	assert.Equal(t, "partial", body)
	var f *StreamFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, ConnectionLost, f.Kind)
}

package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

const readChunkSize = 4096

// Attachment is a file sent along with a prompt.
type Attachment struct {
	Name   string
	Reader io.Reader
}

// TokenSource supplies the bearer token for outbound requests, "" when signed out.
type TokenSource interface {
	Token() string
}

// Transport posts prompts to /ai/{model} and exposes the reply body as an ordered stream
// of raw byte chunks. It does not decode text.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewTransport creates a transport. A nil httpClient gets one without an overall timeout
// (replies can stream for minutes) but with bounded dial and header waits.
func NewTransport(baseURL string, httpClient *http.Client, tokens TokenSource) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: 2 * time.Minute,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return &Transport{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, tokens: tokens}
}

// Send issues the request. Connection failures and non-2xx answers are returned as a
// *StreamFailure before any chunk is produced; a broken body surfaces as the stream's
// final error.
func (t *Transport) Send(ctx context.Context, model, text string, attachments []Attachment) (*schema.StreamReader[[]byte], error) {
	body, contentType, err := encodeMultipart(text, attachments)
	if err != nil {
		return nil, err
	}

	endpoint := t.baseURL + "/ai/" + url.PathEscape(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	var token string
	if t.tokens != nil {
		token = t.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &StreamFailure{Kind: NetworkUnavailable, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StreamFailure{
			Kind:    ServerAborted,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(raw)),
			token:   token,
		}
	}

	reader, writer := schema.Pipe[[]byte](16)
	go pump(resp.Body, writer)
	return reader, nil
}

// pump forwards body reads in arrival order until EOF, a read error, or the reader side
// being closed.
func pump(body io.ReadCloser, w *schema.StreamWriter[[]byte]) {
	defer body.Close()
	defer w.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if closed := w.Send(chunk, nil); closed {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			w.Send(nil, &StreamFailure{Kind: ConnectionLost, Err: err})
			return
		}
	}
}

func encodeMultipart(text string, attachments []Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("prompt", text); err != nil {
		return nil, "", fmt.Errorf("write prompt field: %w", err)
	}
	for _, a := range attachments {
		part, err := mw.CreateFormFile("files", a.Name)
		if err != nil {
			return nil, "", fmt.Errorf("create file part %s: %w", a.Name, err)
		}
		if a.Reader == nil {
			continue
		}
		if _, err := io.Copy(part, a.Reader); err != nil {
			return nil, "", fmt.Errorf("copy attachment %s: %w", a.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const dashboardPath = "/api/protected/dashboard"

var (
	// ErrUnauthorized means the backend rejected the stored token; the session has been cleared.
	ErrUnauthorized = errors.New("dashboard token rejected")
	// ErrStaleToken means the backend rejected a token that has since been replaced; the
	// newer session is kept and the caller may retry.
	ErrStaleToken = errors.New("dashboard token replaced while the request was in flight")
)

// Credentials is the slice of the credential store the client needs.
type Credentials interface {
	Token() string
	ClearIfToken(token string) (bool, error)
}

// Snapshot is the protected dashboard payload, passed through untouched.
type Snapshot struct {
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Client fetches the protected dashboard for the signed-in user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
}

// NewClient creates a dashboard client. A nil httpClient gets a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client, creds Credentials) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		creds:      creds,
	}
}

// Fetch loads the dashboard. A 401 clears the session, if the rejected token is still
// current, and returns ErrUnauthorized; any other failure leaves the session alone.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+dashboardPath, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build dashboard request: %w", err)
	}
	token := c.creds.Token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch dashboard: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read dashboard: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		cleared, err := c.creds.ClearIfToken(token)
		if err != nil {
			log.Printf("[dashboard] failed to clear rejected session: %v", err)
			return Snapshot{}, ErrUnauthorized
		}
		if !cleared && token != "" && c.creds.Token() != "" {
			log.Printf("[dashboard] rejected token already replaced, session kept")
			return Snapshot{}, ErrStaleToken
		}
		log.Printf("[dashboard] token rejected, session cleared")
		return Snapshot{}, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Snapshot{}, fmt.Errorf("dashboard returned status %d", resp.StatusCode)
	}

	return Snapshot{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}, nil
}

package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	model "github.com/dogwood/dashboard-client/internal/model/session"
)

const maxResponseBytes = 1 << 20

// Client performs the three credential round trips against the backend. It holds no
// session state; callers decide what to do with the result.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient gets a 30s timeout client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Registration is the input of Register. Username defaults to the local part of Email.
type Registration struct {
	Username string
	Email    string
	Password string
}

type passwordRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type providerRequest struct {
	ProviderToken string `json:"providerToken"`
}

type sessionResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Picture   string `json:"picture"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Field   string `json:"field"`
}

// Login exchanges email and password for a session.
func (c *Client) Login(ctx context.Context, email, password string) (model.Session, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return model.Session{}, err
	}
	if password == "" {
		return model.Session{}, invalidField("password", "password is required")
	}

	sess, err := c.post(ctx, "/api/login", passwordRequest{Email: email, Password: password})
	return sess, hidePrincipalNotFound(err, InvalidCredentials)
}

// Register creates an account and returns its session.
func (c *Client) Register(ctx context.Context, reg Registration) (model.Session, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	if err := validateEmail(reg.Email); err != nil {
		return model.Session{}, err
	}
	if reg.Password == "" {
		return model.Session{}, invalidField("password", "password is required")
	}
	if strings.TrimSpace(reg.Username) == "" {
		reg.Username = reg.Email[:strings.Index(reg.Email, "@")]
	}

	sess, err := c.post(ctx, "/api/register", passwordRequest{
		Username: strings.TrimSpace(reg.Username),
		Email:    reg.Email,
		Password: reg.Password,
	})
	return sess, hidePrincipalNotFound(err, ServerError)
}

// ExchangeIdentityToken logs in with a third-party token and falls back to registering
// with the same token only when the server reports the principal does not exist.
func (c *Client) ExchangeIdentityToken(ctx context.Context, providerToken string) (model.Session, error) {
	providerToken = strings.TrimSpace(providerToken)
	if providerToken == "" {
		return model.Session{}, invalidField("providerToken", "provider token is required")
	}

	body := providerRequest{ProviderToken: providerToken}
	sess, err := c.post(ctx, "/api/login", body)
	if ReasonOf(err) != principalNotFound {
		return sess, err
	}

	sess, err = c.post(ctx, "/api/register", body)
	return sess, hidePrincipalNotFound(err, ServerError)
}

func (c *Client) post(ctx context.Context, path string, payload any) (model.Session, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return model.Session{}, &Failure{Reason: ServerError, Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return model.Session{}, &Failure{Reason: ServerError, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Session{}, &Failure{Reason: NetworkUnavailable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.Session{}, &Failure{Reason: NetworkUnavailable, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Session{}, classifyStatus(resp.StatusCode, raw)
	}

	var decoded sessionResponse
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return model.Session{}, &Failure{Reason: ServerError, Status: resp.StatusCode, Message: "malformed response body", Err: err}
	}

	sess := model.Session{Token: decoded.Token, SessionID: decoded.SessionID}
	if err := sess.Validate(); err != nil {
		return model.Session{}, &Failure{Reason: ServerError, Status: resp.StatusCode, Message: "response lacks token or session id", Err: err}
	}
	profile := model.Profile{Name: decoded.Name, Email: decoded.Email, AvatarURL: decoded.Picture}
	if !profile.IsZero() {
		sess.IssuedTo = &profile
	}
	return sess, nil
}

func classifyStatus(status int, raw []byte) *Failure {
	msg, field := parseErrorBody(raw)
	f := &Failure{Status: status, Message: msg}

	switch {
	case status == http.StatusNotFound:
		f.Reason = principalNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if isNotFoundMessage(msg) {
			f.Reason = principalNotFound
		} else {
			f.Reason = InvalidCredentials
		}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		f.Reason = ValidationError
		f.Field = field
	default:
		f.Reason = ServerError
	}
	return f
}

func parseErrorBody(raw []byte) (message, field string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", ""
	}
	if trimmed[0] == '{' {
		var body errorResponse
		if err := sonic.Unmarshal(trimmed, &body); err == nil {
			if body.Message != "" {
				return body.Message, body.Field
			}
			return body.Error, body.Field
		}
	}
	text := string(trimmed)
	if len(text) > 200 {
		text = text[:200]
	}
	return text, ""
}

func isNotFoundMessage(msg string) bool {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "user not found", "principal not found", "user_not_found", "principal_not_found":
		return true
	}
	return false
}

// hidePrincipalNotFound maps the internal not-found signal to a public reason.
func hidePrincipalNotFound(err error, as Reason) error {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Failure); ok && f.Reason == principalNotFound {
		mapped := *f
		mapped.Reason = as
		return &mapped
	}
	return err
}

func validateEmail(email string) error {
	if email == "" {
		return invalidField("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalidField("email", fmt.Sprintf("%q is not a valid email address", email))
	}
	return nil
}

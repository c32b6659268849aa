package auth

import (
	"context"
	"errors"
	"log"

	model "github.com/dogwood/dashboard-client/internal/model/session"
	"github.com/dogwood/dashboard-client/internal/service/session"
)

// ErrSuperseded is returned under sequence ordering when a newer credential request has
// already been applied; the returned session was valid but not stored.
var ErrSuperseded = errors.New("auth result superseded by a newer request")

// Service ties AuthClient results to the credential store: successes are stored,
// failures never touch an existing session.
type Service struct {
	client    *Client
	store     *session.Store
	sequenced bool
}

// NewService creates a Service. With sequenced=false the last request to complete wins;
// with sequenced=true the last request to be issued wins.
func NewService(client *Client, store *session.Store, sequenced bool) *Service {
	return &Service{client: client, store: store, sequenced: sequenced}
}

// Login authenticates with email and password.
func (s *Service) Login(ctx context.Context, email, password string) (model.Session, error) {
	return s.apply("login", func() (model.Session, error) {
		return s.client.Login(ctx, email, password)
	})
}

// Register creates an account and stores its session.
func (s *Service) Register(ctx context.Context, reg Registration) (model.Session, error) {
	return s.apply("register", func() (model.Session, error) {
		return s.client.Register(ctx, reg)
	})
}

// ExchangeIdentityToken authenticates with a third-party token.
func (s *Service) ExchangeIdentityToken(ctx context.Context, providerToken string) (model.Session, error) {
	return s.apply("identity", func() (model.Session, error) {
		return s.client.ExchangeIdentityToken(ctx, providerToken)
	})
}

// Logout drops the stored session.
func (s *Service) Logout() error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	log.Printf("[auth] session cleared by logout")
	return nil
}

// Current returns the stored session.
func (s *Service) Current() (model.Session, bool) {
	return s.store.Get()
}

func (s *Service) apply(op string, call func() (model.Session, error)) (model.Session, error) {
	var ticket uint64
	if s.sequenced {
		ticket = s.store.Ticket()
	}

	sess, err := call()
	if err != nil {
		log.Printf("[auth] %s failed: %s", op, ReasonOf(err))
		return model.Session{}, err
	}

	if !s.sequenced {
		if err := s.store.Set(sess); err != nil {
			return model.Session{}, err
		}
		log.Printf("[auth] %s succeeded, session=%s", op, sess.SessionID)
		return sess, nil
	}

	applied, err := s.store.SetIfLatest(ticket, sess)
	if err != nil {
		return model.Session{}, err
	}
	if !applied {
		log.Printf("[auth] %s result dropped, newer request already applied", op)
		return sess, ErrSuperseded
	}
	log.Printf("[auth] %s succeeded, session=%s", op, sess.SessionID)
	return sess, nil
}

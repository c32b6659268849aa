package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	model "github.com/dogwood/dashboard-client/internal/model/session"
)

// FileRepository stores the session keys as one JSON document on disk.
type FileRepository struct {
	path string
}

// fileRecord mirrors the key/value layout: token and sessionId always travel together,
// user is optional.
type fileRecord struct {
	Token     string         `json:"token,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	User      *model.Profile `json:"user,omitempty"`
}

// NewFileRepository returns a repository rooted at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Load reads the document. A missing file means no session.
func (r *FileRepository) Load(_ context.Context) (model.Session, bool, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("read %s: %w", r.path, err)
	}
	if len(data) == 0 {
		return model.Session{}, false, nil
	}

	var rec fileRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return model.Session{}, false, fmt.Errorf("decode %s: %w", r.path, err)
	}
	if rec.Token == "" && rec.SessionID == "" {
		return model.Session{}, false, nil
	}

	sess := model.Session{Token: rec.Token, SessionID: rec.SessionID, IssuedTo: rec.User}
	if err := sess.Validate(); err != nil {
		return model.Session{}, false, err
	}
	return sess, true, nil
}

// Save writes the document through a temp file so a crash never leaves half a session.
func (r *FileRepository) Save(_ context.Context, s model.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := sonic.Marshal(fileRecord{Token: s.Token, SessionID: s.SessionID, User: s.IssuedTo})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return os.Rename(tmp.Name(), r.path)
}

// Delete removes the document.
func (r *FileRepository) Delete(_ context.Context) error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", r.path, err)
	}
	return nil
}

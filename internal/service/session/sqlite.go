package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	model "github.com/dogwood/dashboard-client/internal/model/session"
)

const (
	keyToken     = "token"
	keySessionID = "sessionId"
	keyUser      = "user"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLiteRepository keeps the session keys in a small key/value table.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLiteRepository opens (and creates if needed) the database at path.
func OpenSQLiteRepository(path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", kvSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise database: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Load reads the three session keys.
func (r *SQLiteRepository) Load(ctx context.Context) (model.Session, bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM kv WHERE key IN (?, ?, ?)", keyToken, keySessionID, keyUser)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 3)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return model.Session{}, false, fmt.Errorf("scan session: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return model.Session{}, false, fmt.Errorf("iterate session: %w", err)
	}

	if values[keyToken] == "" && values[keySessionID] == "" {
		return model.Session{}, false, nil
	}

	sess := model.Session{Token: values[keyToken], SessionID: values[keySessionID]}
	if err := sess.Validate(); err != nil {
		return model.Session{}, false, err
	}

	if raw, ok := values[keyUser]; ok && raw != "" {
		var profile model.Profile
		if err := sonic.UnmarshalString(raw, &profile); err != nil {
			return model.Session{}, false, fmt.Errorf("decode cached profile: %w", err)
		}
		sess.IssuedTo = &profile
	}
	return sess, true, nil
}

// Save writes token, session id and the optional profile in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, s model.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := "INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	if _, err := tx.ExecContext(ctx, upsert, keyToken, s.Token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, keySessionID, s.SessionID); err != nil {
		return fmt.Errorf("store session id: %w", err)
	}

	if s.IssuedTo != nil {
		profile, err := sonic.MarshalString(s.IssuedTo)
		if err != nil {
			return fmt.Errorf("encode cached profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsert, keyUser, profile); err != nil {
			return fmt.Errorf("store cached profile: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", keyUser); err != nil {
		return fmt.Errorf("drop cached profile: %w", err)
	}

	return tx.Commit()
}

// Delete clears all session keys together.
func (r *SQLiteRepository) Delete(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM kv WHERE key IN (?, ?, ?)", keyToken, keySessionID, keyUser)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

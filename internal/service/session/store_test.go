package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/dogwood/dashboard-client/internal/model/session"
)

func sample(token string) model.Session {
	return model.Session{Token: token, SessionID: "sid-" + token}
}

func TestStoreSetGetClear(t *testing.T) {
	store := NewStore(model.NewMemoryRepository())
	require.NoError(t, store.Load(context.Background()))

	_, ok := store.Get()
	assert.False(t, ok)

	require.NoError(t, store.Set(sample("a")))
	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "a", got.Token)
	assert.Equal(t, "sid-a", got.SessionID)

	require.NoError(t, store.Clear())
	_, ok = store.Get()
	assert.False(t, ok)
	assert.Empty(t, store.Token())
}

func TestStoreRejectsHalfSession(t *testing.T) {
	store := NewStore(nil)
	require.NoError(t, store.Set(sample("a")))

	err := store.Set(model.Session{Token: "only-token"})
	assert.ErrorIs(t, err, model.ErrIncomplete)

	err = store.Set(model.Session{SessionID: "only-id"})
	assert.ErrorIs(t, err, model.ErrIncomplete)

	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "a", got.Token, "rejected writes must not touch the current session")
}

func TestStoreLastCompletedWriteWins(t *testing.T) {
	store := NewStore(nil)

	// B was issued second but completes first; A completes last.
	require.NoError(t, store.Set(sample("B")))
	require.NoError(t, store.Set(sample("A")))

	got, _ := store.Get()
	assert.Equal(t, "A", got.Token)
}

func TestStoreSequenceOrderingDropsStaleResult(t *testing.T) {
	store := NewStore(nil)

	ticketA := store.Ticket()
	ticketB := store.Ticket()

	applied, err := store.SetIfLatest(ticketB, sample("B"))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.SetIfLatest(ticketA, sample("A"))
	require.NoError(t, err)
	assert.False(t, applied)

	got, _ := store.Get()
	assert.Equal(t, "B", got.Token)
}

func TestStoreClearInvalidatesOutstandingTickets(t *testing.T) {
	store := NewStore(nil)
	ticket := store.Ticket()
	require.NoError(t, store.Clear())

	applied, err := store.SetIfLatest(ticket, sample("late"))
	require.NoError(t, err)
	assert.False(t, applied)

	_, ok := store.Get()
	assert.False(t, ok)
}

func TestStoreLoadRestoresPersistedSession(t *testing.T) {
	repo := model.NewMemoryRepository()
	require.NoError(t, repo.Save(context.Background(), sample("persisted")))

	store := NewStore(repo)
	assert.False(t, store.Loaded())
	require.NoError(t, store.Load(context.Background()))
	assert.True(t, store.Loaded())

	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "persisted", got.Token)
}

func TestStoreWriteBeforeLoadWins(t *testing.T) {
	repo := model.NewMemoryRepository()
	require.NoError(t, repo.Save(context.Background(), sample("old")))

	store := NewStore(repo)
	require.NoError(t, store.Set(sample("fresh")))
	require.NoError(t, store.Load(context.Background()))

	got, _ := store.Get()
	assert.Equal(t, "fresh", got.Token)
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	repo := NewFileRepository(path)
	ctx := context.Background()

	_, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	sess := sample("file")
	sess.IssuedTo = &model.Profile{Name: "Ada", Email: "ada@example.com", AvatarURL: "https://img/ada.png"}
	require.NoError(t, repo.Save(ctx, sess))

	got, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	require.NoError(t, repo.Delete(ctx))
	_, ok, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, repo.Delete(ctx), "deleting twice is not an error")
}

func TestStoreDiscardsIncompleteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token":"orphan"}`), 0o600))

	store := NewStore(NewFileRepository(path))
	require.NoError(t, store.Load(context.Background()))

	_, ok := store.Get()
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo, err := OpenSQLiteRepository(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()

	sess := sample("sqlite")
	sess.IssuedTo = &model.Profile{Name: "Grace"}
	require.NoError(t, repo.Save(ctx, sess))

	got, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	sess.IssuedTo = nil
	require.NoError(t, repo.Save(ctx, sess))
	got, _, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.IssuedTo)

	require.NoError(t, repo.Delete(ctx))
	_, ok, err = repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreClearIfTokenSparesNewerSession(t *testing.T) {
	store := NewStore(model.NewMemoryRepository())
	require.NoError(t, store.Load(context.Background()))
	require.NoError(t, store.Set(sample("old")))

	issuedWith := store.Token()
	require.NoError(t, store.Set(sample("fresh")))

	cleared, err := store.ClearIfToken(issuedWith)
	require.NoError(t, err)
	assert.False(t, cleared)
	assert.Equal(t, "fresh", store.Token())

	cleared, err = store.ClearIfToken("fresh")
	require.NoError(t, err)
	assert.True(t, cleared)
	_, ok := store.Get()
	assert.False(t, ok)
}

func TestStoreClearIfTokenIgnoresEmptyToken(t *testing.T) {
	store := NewStore(nil)
	cleared, err := store.ClearIfToken("")
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestStoreGetReturnsIndependentProfile(t *testing.T) {
	store := NewStore(nil)
	sess := sample("a")
	sess.IssuedTo = &model.Profile{Name: "Ada"}
	require.NoError(t, store.Set(sess))

	got, _ := store.Get()
	got.IssuedTo.Name = "changed"

	again, _ := store.Get()
	assert.Equal(t, "Ada", again.IssuedTo.Name)
}

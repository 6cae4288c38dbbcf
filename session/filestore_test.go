package session_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

const (
	testUserID    = "u1"
	testUserEmail = "john.doe@example.com"
)

func testSession() *session.Session {
	return &session.Session{
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		User: &session.UserProfile{
			ID:           testUserID,
			Email:        testUserEmail,
			Role:         "owner",
			TenantID:     "tenant-1",
			BusinessName: "Demo Coffee Co",
		},
	}
}

func newTestStore(t *testing.T, dir string) *session.FileStore {
	t.Helper()
	store, err := session.NewFileStore(
		filepath.Join(dir, "session.json"),
		filepath.Join(dir, "volatile", "session.json"),
	)
	require.NoError(t, err)
	return store
}

func TestPersistThenLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	before := time.Now().UnixMilli()
	persisted, err := store.Persist(testSession(), session.PersistOptions{Remember: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, persisted.UpdatedAt, before)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, persisted, loaded)
	require.Equal(t, testUserID, loaded.User.ID)
	require.True(t, loaded.Remember)
}

func TestLoadReturnsLastWrite(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	first := testSession()
	_, err := store.Persist(first, session.PersistOptions{Remember: true})
	require.NoError(t, err)

	second := testSession()
	second.AccessToken = "access-token-2"
	_, err = store.Persist(second, session.PersistOptions{Remember: false})
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "access-token-2", loaded.AccessToken)

	require.NoError(t, store.Clear())
	loaded, err = store.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestRememberSurvivesStoreReopen(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)

	_, err := store.Persist(testSession(), session.PersistOptions{Remember: true})
	require.NoError(t, err)

	reopened := newTestStore(t, dir)
	loaded, err := reopened.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, testUserID, loaded.User.ID)
}

func TestVolatileDoesNotSurviveNewVolatileTier(t *testing.T) {
	dir := t.TempDir()
	persistentPath := filepath.Join(dir, "session.json")

	store, err := session.NewFileStore(persistentPath, filepath.Join(dir, "boot-1", "session.json"))
	require.NoError(t, err)
	_, err = store.Persist(testSession(), session.PersistOptions{Remember: false})
	require.NoError(t, err)

	// A fresh volatile location models the temp dir being wiped between
	// runs: the session must not be restored.
	reopened, err := session.NewFileStore(persistentPath, filepath.Join(dir, "boot-2", "session.json"))
	require.NoError(t, err)
	loaded, err := reopened.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestClearRemovesBothTiers(t *testing.T) {
	dir := t.TempDir()

	for _, remember := range []bool{true, false} {
		store := newTestStore(t, dir)
		_, err := store.Persist(testSession(), session.PersistOptions{Remember: remember})
		require.NoError(t, err)

		require.NoError(t, store.Clear())
		require.NoError(t, store.Clear()) // idempotent

		loaded, err := store.Load()
		require.NoError(t, err)
		require.Nil(t, loaded)
	}
}

func TestCorruptTierTreatedAsNoSession(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{not json"), 0o600))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestPersistentTierWinsOverVolatile(t *testing.T) {
	dir := t.TempDir()

	// Two stores sharing the persistent path but with distinct volatile
	// tiers can leave copies in both; the persistent tier is authoritative.
	storeA, err := session.NewFileStore(filepath.Join(dir, "session.json"), filepath.Join(dir, "a", "session.json"))
	require.NoError(t, err)
	storeB, err := session.NewFileStore(filepath.Join(dir, "session.json"), filepath.Join(dir, "b", "session.json"))
	require.NoError(t, err)

	volatileOnly := testSession()
	volatileOnly.AccessToken = "volatile-token"
	_, err = storeA.Persist(volatileOnly, session.PersistOptions{Remember: false})
	require.NoError(t, err)

	persistent := testSession()
	persistent.AccessToken = "persistent-token"
	_, err = storeB.Persist(persistent, session.PersistOptions{Remember: true})
	require.NoError(t, err)

	loaded, err := storeA.Load()
	require.NoError(t, err)
	require.Equal(t, "persistent-token", loaded.AccessToken)
}

func TestPersistEnforcesIdentityCredentialInvariant(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	orphan := &session.Session{User: &session.UserProfile{ID: testUserID}, RefreshToken: "refresh"}
	persisted, err := store.Persist(orphan, session.PersistOptions{Remember: true})
	require.NoError(t, err)
	require.Nil(t, persisted)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestNewFileStoreValidation(t *testing.T) {
	_, err := session.NewFileStore("", "volatile.json")
	require.Error(t, err)
	_, err = session.NewFileStore("same.json", "same.json")
	require.Error(t, err)
}

func TestOnChangeObservesOwnMutations(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	var observed []*session.Session
	unsubscribe := store.OnChange(func(s *session.Session) {
		observed = append(observed, s)
	})

	persisted, err := store.Persist(testSession(), session.PersistOptions{Remember: true})
	require.NoError(t, err)
	require.Len(t, observed, 1, "persist must notify synchronously")
	require.Equal(t, persisted, observed[0])

	require.NoError(t, store.Clear())
	require.Len(t, observed, 2)
	require.Nil(t, observed[1], "clear must notify with nil")

	unsubscribe()
	unsubscribe() // safe to call again
	_, err = store.Persist(testSession(), session.PersistOptions{Remember: true})
	require.NoError(t, err)
	require.Len(t, observed, 2, "no delivery after unsubscribe")
}

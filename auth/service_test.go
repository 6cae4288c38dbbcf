package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/session/storefakes"
	"github.com/stretchr/testify/require"
)

const (
	testUserID    = "u1"
	testUserEmail = "john.doe@example.com"
)

type testFixture struct {
	store   *storefakes.FakeStore
	bridge  *storefakes.FakeBridge
	service *auth.Service
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	store := storefakes.NewFakeStore()
	bridge := storefakes.NewFakeBridge()

	service, err := auth.NewService(store, bridge)
	require.NoError(t, err)
	t.Cleanup(service.Close)

	return &testFixture{store: store, bridge: bridge, service: service}
}

func testSession() *session.Session {
	return &session.Session{
		AccessToken:  "access-token-1",
		RefreshToken: "refresh-token-1",
		User:         &session.UserProfile{ID: testUserID, Email: testUserEmail},
	}
}

type publishRecorder struct {
	lock     sync.Mutex
	received []*session.Session
}

func (r *publishRecorder) callback(s *session.Session) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.received = append(r.received, s)
}

func (r *publishRecorder) snapshot() []*session.Session {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*session.Session(nil), r.received...)
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := auth.NewService(nil, nil)
	require.Error(t, err)
}

func TestNewServicePicksUpStoredSession(t *testing.T) {
	store := storefakes.NewFakeStore()
	_, err := store.Persist(testSession(), session.PersistOptions{Remember: true})
	require.NoError(t, err)

	service, err := auth.NewService(store, nil)
	require.NoError(t, err)
	defer service.Close()

	require.True(t, service.IsAuthenticated())
	require.Equal(t, testUserID, service.User().ID)
}

func TestLoginPersistsAndPublishesLocally(t *testing.T) {
	f := setupTestFixture(t)

	recorder := &publishRecorder{}
	defer f.service.Subscribe(recorder.callback)()

	persisted, err := f.service.Login(testSession(), auth.LoginOptions{Remember: true})
	require.NoError(t, err)
	require.True(t, persisted.Remember)
	require.True(t, f.service.IsAuthenticated())

	// Local publication is synchronous, no bridge round-trip.
	received := recorder.snapshot()
	require.Len(t, received, 1)
	require.Equal(t, testUserID, received[0].User.ID)

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Equal(t, testUserID, stored.User.ID)
}

func TestLoginRejectsIncompleteSession(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Login(&session.Session{AccessToken: "token"}, auth.LoginOptions{})
	require.Error(t, err)
	require.False(t, f.service.IsAuthenticated())
}

func TestLogoutClearsAndPublishesNil(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(testSession(), auth.LoginOptions{Remember: true})
	require.NoError(t, err)

	recorder := &publishRecorder{}
	defer f.service.Subscribe(recorder.callback)()

	require.NoError(t, f.service.Logout())
	require.False(t, f.service.IsAuthenticated())
	require.Nil(t, f.service.Current())

	received := recorder.snapshot()
	require.Len(t, received, 1)
	require.Nil(t, received[0])

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestUpdateUserMergesProfileKeepsTokens(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(testSession(), auth.LoginOptions{Remember: true})
	require.NoError(t, err)

	updated, err := f.service.UpdateUser(func(previous *session.UserProfile) *session.UserProfile {
		previous.BusinessName = "Renamed Co"
		return previous
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed Co", updated.User.BusinessName)
	require.Equal(t, testUserID, updated.User.ID)
	require.Equal(t, "access-token-1", updated.AccessToken)
	require.Equal(t, "refresh-token-1", updated.RefreshToken)
	require.True(t, updated.Remember)
}

func TestUpdateUserNoOpsWhenLoggedOut(t *testing.T) {
	f := setupTestFixture(t)

	updated, err := f.service.UpdateUser(func(previous *session.UserProfile) *session.UserProfile {
		t.Fatal("apply must not be called without a session")
		return previous
	})
	require.NoError(t, err)
	require.Nil(t, updated)
}

func TestSetUserReplacesProfile(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(testSession(), auth.LoginOptions{})
	require.NoError(t, err)

	updated, err := f.service.SetUser(&session.UserProfile{ID: testUserID, Email: "new@example.com"})
	require.NoError(t, err)
	require.Equal(t, "new@example.com", updated.User.Email)
	require.Equal(t, "access-token-1", updated.AccessToken)
}

func TestForeignChangeUpdatesStateAndSubscribers(t *testing.T) {
	f := setupTestFixture(t)

	recorder := &publishRecorder{}
	defer f.service.Subscribe(recorder.callback)()

	foreign := testSession()
	foreign.UpdatedAt = time.Now().UnixMilli()
	f.bridge.Publish(foreign)

	require.True(t, f.service.IsAuthenticated())
	received := recorder.snapshot()
	require.Len(t, received, 1)
	require.Equal(t, testUserID, received[0].User.ID)

	f.bridge.Publish(nil)
	require.False(t, f.service.IsAuthenticated())
}

func TestStaleForeignChangeDropped(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(testSession(), auth.LoginOptions{Remember: true})
	require.NoError(t, err)

	stale := testSession()
	stale.User.ID = "stale-user"
	stale.UpdatedAt = f.service.Current().UpdatedAt - 1000
	f.bridge.Publish(stale)

	require.Equal(t, testUserID, f.service.User().ID)
}

func TestCloseReleasesBridgeSubscription(t *testing.T) {
	f := setupTestFixture(t)
	require.Equal(t, 1, f.bridge.SubscriberCount())

	f.service.Close()
	f.service.Close()
	require.Zero(t, f.bridge.SubscriberCount())
}

func TestSubscribeUnsubscribeIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)

	recorder := &publishRecorder{}
	unsubscribe := f.service.Subscribe(recorder.callback)
	unsubscribe()
	unsubscribe()

	_, err := f.service.Login(testSession(), auth.LoginOptions{})
	require.NoError(t, err)
	require.Empty(t, recorder.snapshot())
}

func TestStoreMutationByAnotherComponentReachesFacade(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(testSession(), auth.LoginOptions{Remember: true})
	require.NoError(t, err)
	require.True(t, f.service.IsAuthenticated())

	recorder := &publishRecorder{}
	defer f.service.Subscribe(recorder.callback)()

	// The HTTP client writes through the same store, not through the
	// facade. Its mutations must still be visible here.
	rotated := testSession()
	rotated.AccessToken = "access-token-2"
	_, err = f.store.Persist(rotated, session.PersistOptions{Remember: true})
	require.NoError(t, err)
	require.Equal(t, "access-token-2", f.service.Current().AccessToken)

	require.NoError(t, f.store.Clear())
	require.False(t, f.service.IsAuthenticated())
	require.Nil(t, f.service.Current())

	received := recorder.snapshot()
	require.Len(t, received, 2)
	require.Equal(t, "access-token-2", received[0].AccessToken)
	require.Nil(t, received[1])
}

func TestConcurrentUpdateUserLosesNoWrite(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(testSession(), auth.LoginOptions{Remember: true})
	require.NoError(t, err)

	const updates = 25
	errs := make(chan error, updates)
	var wg sync.WaitGroup
	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.UpdateUser(func(previous *session.UserProfile) *session.UserProfile {
				previous.FirstName += "x"
				return previous
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, f.service.User().FirstName, updates, "every read-modify-write must land")
}

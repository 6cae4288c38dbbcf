// Package auth provides the session facade: the only session API the rest
// of an application depends on. It composes a session.Store (ownership of
// the persisted state) with a session.Bridge (visibility of other
// processes' mutations) behind login/logout/update operations and a local
// subscription list.
package auth

import (
	"sync"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Service is the session facade. The initial read happens synchronously in
// NewService, so a constructed Service always reflects the stored state;
// there is no loading window. One Service instance is expected per process.
type Service struct {
	store  session.Store
	bridge session.Bridge
	logger zerolog.Logger

	// writeLock serializes the mutating operations so a read-modify-write
	// like UpdateUser cannot interleave with another mutation.
	writeLock sync.Mutex

	lock      sync.RWMutex
	current   *session.Session
	subs      map[int]func(*session.Session)
	nextSubID int

	storeNotifies     bool
	unsubscribeStore  func()
	unsubscribeBridge func()
	closeOnce         sync.Once
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService initializes the facade, performs the initial store read and
// subscribes to the bridge for the lifetime of the instance. bridge may be
// nil when cross-process visibility is not needed (single-process tools,
// tests). Call Close to release the bridge subscription.
func NewService(store session.Store, bridge session.Bridge, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("[NewService] store is required")
	}

	service := &Service{
		store:  store,
		bridge: bridge,
		logger: zerolog.Nop(),
		subs:   make(map[int]func(*session.Session)),
	}
	for _, opt := range options {
		opt(service)
	}

	current, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "[NewService] initial session load")
	}
	service.current = current

	// A store that announces its own writes keeps the facade current even
	// when some other component mutates it, such as the HTTP client
	// rotating tokens or tearing the session down after a rejected
	// refresh. For plain stores the facade republishes its own mutations
	// itself; mutations made behind its back stay invisible until the
	// next one.
	if notifier, ok := store.(session.ChangeNotifier); ok {
		service.storeNotifies = true
		service.unsubscribeStore = notifier.OnChange(service.onStoreChange)
	}

	if bridge != nil {
		service.unsubscribeBridge = bridge.Subscribe(service.onForeignChange)
	}
	return service, nil
}

// Current returns a snapshot of the session, or nil when logged out.
func (s *Service) Current() *session.Session {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.current.Clone()
}

// User returns the current profile, or nil when logged out.
func (s *Service) User() *session.UserProfile {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.current == nil || s.current.User == nil {
		return nil
	}
	user := *s.current.User
	return &user
}

// IsAuthenticated reports whether a user is logged in.
func (s *Service) IsAuthenticated() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.current.Authenticated()
}

// LoginOptions control session persistence on login.
type LoginOptions struct {
	Remember bool
}

// Login persists the session produced by a successful credential exchange
// and republishes it to local subscribers immediately. The originating
// process does not wait for its own bridge round-trip.
func (s *Service) Login(sess *session.Session, opts LoginOptions) (*session.Session, error) {
	if !sess.Authenticated() {
		return nil, errors.New("[Service.Login] session has no usable credential")
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	persisted, err := s.store.Persist(sess, session.PersistOptions{Remember: opts.Remember})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] persist")
	}

	s.publishOwn(persisted)
	s.logger.Info().Str("user", persisted.User.ID).Bool("remember", opts.Remember).Msg("logged in")
	return persisted.Clone(), nil
}

// Logout clears both storage tiers and republishes nil. Idempotent.
func (s *Service) Logout() error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if err := s.store.Clear(); err != nil {
		return errors.Wrap(err, "[Service.Logout] clear")
	}
	s.publishOwn(nil)
	s.logger.Info().Msg("logged out")
	return nil
}

// UpdateUser merges a new profile into the current session, leaving tokens
// and the remember flag untouched. apply receives a copy of the previous
// profile and returns the replacement; returning nil keeps the previous
// profile. No-ops when there is no current session.
func (s *Service) UpdateUser(apply func(previous *session.UserProfile) *session.UserProfile) (*session.Session, error) {
	if apply == nil {
		return nil, errors.New("[Service.UpdateUser] apply is required")
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	current := s.Current()
	if !current.Authenticated() {
		return nil, nil
	}

	previous := *current.User
	if replacement := apply(&previous); replacement != nil {
		user := *replacement
		current.User = &user
	}

	persisted, err := s.store.Persist(current, session.PersistOptions{Remember: current.Remember})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.UpdateUser] persist")
	}
	s.publishOwn(persisted)
	return persisted.Clone(), nil
}

// SetUser replaces the current profile wholesale. No-ops when logged out.
func (s *Service) SetUser(user *session.UserProfile) (*session.Session, error) {
	return s.UpdateUser(func(*session.UserProfile) *session.UserProfile {
		return user
	})
}

// Subscribe registers a callback invoked with a session snapshot after every
// change, local or foreign. The returned function deregisters it and is
// safe to call multiple times.
func (s *Service) Subscribe(callback func(*session.Session)) func() {
	s.lock.Lock()
	defer s.lock.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = callback

	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.subs, id)
	}
}

// Close releases the store and bridge subscriptions. The Service remains
// readable.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribeStore != nil {
			s.unsubscribeStore()
		}
		if s.unsubscribeBridge != nil {
			s.unsubscribeBridge()
		}
	})
}

// onStoreChange applies a mutation made through this process's store, by
// the facade itself or by any other component writing to it. The store is
// authoritative for its own writes, so no staleness check applies.
func (s *Service) onStoreChange(sess *session.Session) {
	s.setAndPublish(sess)
	s.logger.Debug().Bool("authenticated", sess.Authenticated()).Msg("local session change applied")
}

// publishOwn republishes a mutation the facade made itself, but only for
// stores that do not announce their own writes; a notifying store has
// already delivered it through onStoreChange.
func (s *Service) publishOwn(sess *session.Session) {
	if s.storeNotifies {
		return
	}
	s.setAndPublish(sess)
}

// onForeignChange applies a mutation observed from another process.
// Conflicting writes resolve last-write-wins on UpdatedAt; an older
// incoming state is dropped rather than merged.
func (s *Service) onForeignChange(incoming *session.Session) {
	s.lock.Lock()
	if incoming != nil && s.current != nil && incoming.UpdatedAt < s.current.UpdatedAt {
		s.lock.Unlock()
		s.logger.Debug().Msg("stale foreign session change dropped")
		return
	}
	s.current = incoming.Clone()
	callbacks := s.snapshotSubsLocked()
	s.lock.Unlock()

	for _, cb := range callbacks {
		cb(incoming.Clone())
	}
	s.logger.Debug().Bool("authenticated", incoming.Authenticated()).Msg("foreign session change applied")
}

func (s *Service) setAndPublish(sess *session.Session) {
	s.lock.Lock()
	s.current = sess.Clone()
	callbacks := s.snapshotSubsLocked()
	s.lock.Unlock()

	for _, cb := range callbacks {
		cb(sess.Clone())
	}
}

func (s *Service) snapshotSubsLocked() []func(*session.Session) {
	callbacks := make([]func(*session.Session), 0, len(s.subs))
	for _, cb := range s.subs {
		callbacks = append(callbacks, cb)
	}
	return callbacks
}

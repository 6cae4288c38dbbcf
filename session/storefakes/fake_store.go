package storefakes

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/session"
)

var (
	_ session.Store          = (*FakeStore)(nil)
	_ session.ChangeNotifier = (*FakeStore)(nil)
)

// FakeStore is an in-memory two-tier store for tests.
type FakeStore struct {
	lock       sync.RWMutex
	persistent *session.Session
	volatile   *session.Session
	nowTime    func() time.Time

	subLock   sync.Mutex
	onChange  map[int]func(*session.Session)
	nextSubID int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		nowTime:  time.Now,
		onChange: make(map[int]func(*session.Session)),
	}
}

// OnChange registers a callback invoked synchronously after every Persist
// and Clear on this store, same contract as FileStore.
func (fs *FakeStore) OnChange(callback func(*session.Session)) (unsubscribe func()) {
	fs.subLock.Lock()
	defer fs.subLock.Unlock()

	id := fs.nextSubID
	fs.nextSubID++
	fs.onChange[id] = callback

	return func() {
		fs.subLock.Lock()
		defer fs.subLock.Unlock()
		delete(fs.onChange, id)
	}
}

func (fs *FakeStore) notifyChange(s *session.Session) {
	fs.subLock.Lock()
	callbacks := make([]func(*session.Session), 0, len(fs.onChange))
	for _, cb := range fs.onChange {
		callbacks = append(callbacks, cb)
	}
	fs.subLock.Unlock()

	for _, cb := range callbacks {
		cb(s.Clone())
	}
}

// SetNowTime overrides the clock used to stamp UpdatedAt.
func (fs *FakeStore) SetNowTime(nowFunc func() time.Time) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.nowTime = nowFunc
}

func (fs *FakeStore) Load() (*session.Session, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.persistent != nil {
		return fs.persistent.Normalized(), nil
	}
	if fs.volatile != nil {
		return fs.volatile.Normalized(), nil
	}
	return nil, nil
}

func (fs *FakeStore) Persist(s *session.Session, opts session.PersistOptions) (*session.Session, error) {
	fs.lock.Lock()
	stored := s.Normalized()
	if stored == nil {
		stored = &session.Session{}
	}
	stored.Remember = opts.Remember
	stored.UpdatedAt = fs.nowTime().UnixMilli()
	if opts.Remember {
		fs.persistent = stored
		fs.volatile = nil
	} else {
		fs.volatile = stored
		fs.persistent = nil
	}
	fs.lock.Unlock()

	written := stored.Normalized()
	fs.notifyChange(written)
	return written, nil
}

func (fs *FakeStore) Clear() error {
	fs.lock.Lock()
	fs.persistent = nil
	fs.volatile = nil
	fs.lock.Unlock()

	fs.notifyChange(nil)
	return nil
}

var _ session.Bridge = (*FakeBridge)(nil)

// FakeBridge is an in-process stand-in for the cross-process bridge. Tests
// call Publish to simulate a mutation made by another process.
type FakeBridge struct {
	lock      sync.Mutex
	subs      map[int]func(*session.Session)
	nextSubID int
}

func NewFakeBridge() *FakeBridge {
	return &FakeBridge{subs: make(map[int]func(*session.Session))}
}

func (fb *FakeBridge) Subscribe(callback func(*session.Session)) func() {
	fb.lock.Lock()
	defer fb.lock.Unlock()

	id := fb.nextSubID
	fb.nextSubID++
	fb.subs[id] = callback

	return func() {
		fb.lock.Lock()
		defer fb.lock.Unlock()
		delete(fb.subs, id)
	}
}

// Publish delivers a session to every subscriber, as a foreign mutation
// would.
func (fb *FakeBridge) Publish(s *session.Session) {
	fb.lock.Lock()
	callbacks := make([]func(*session.Session), 0, len(fb.subs))
	for _, cb := range fb.subs {
		callbacks = append(callbacks, cb)
	}
	fb.lock.Unlock()

	for _, cb := range callbacks {
		cb(s.Clone())
	}
}

// SubscriberCount reports the number of active subscriptions.
func (fb *FakeBridge) SubscriberCount() int {
	fb.lock.Lock()
	defer fb.lock.Unlock()
	return len(fb.subs)
}

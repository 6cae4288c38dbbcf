package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// debounceWindow collapses the burst of filesystem events a single Persist
// produces (target tier write plus other-tier tombstone) into one delivery.
const debounceWindow = 50 * time.Millisecond

// FileBridge watches the tier files of a FileStore and republishes foreign
// mutations as in-process notifications. Mutations written by the bridge's
// own store carry its writer ID and are filtered out, so a process never
// double-observes its own writes.
//
// Delivery is best-effort and asynchronous relative to the writing process.
// Between two rapid foreign writes only the final state is guaranteed to be
// delivered.
type FileBridge struct {
	store   *FileStore
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	lock      sync.Mutex
	subs      map[int]func(*Session)
	nextSubID int
	pending   *time.Timer
	closed    bool

	done chan struct{}
}

// FileBridgeOption modifies a FileBridge during construction.
type FileBridgeOption func(*FileBridge)

// WithBridgeLogger attaches a logger. The default discards everything.
func WithBridgeLogger(logger zerolog.Logger) FileBridgeOption {
	return func(b *FileBridge) {
		b.logger = logger
	}
}

// NewFileBridge starts watching the directories holding the store's tier
// files. Close must be called to release the watcher.
func NewFileBridge(store *FileStore, options ...FileBridgeOption) (*FileBridge, error) {
	if store == nil {
		return nil, errors.New("[NewFileBridge] store is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "[NewFileBridge] fsnotify.NewWatcher")
	}

	bridge := &FileBridge{
		store:   store,
		watcher: watcher,
		logger:  zerolog.Nop(),
		subs:    make(map[int]func(*Session)),
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(bridge)
	}

	persistentPath, volatilePath := store.Paths()
	dirs := map[string]struct{}{
		filepath.Dir(persistentPath): {},
		filepath.Dir(volatilePath):   {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "[NewFileBridge] watch %s", dir)
		}
	}

	go bridge.run(persistentPath, volatilePath)
	return bridge, nil
}

var _ Bridge = (*FileBridge)(nil)

// Subscribe registers a callback for foreign session mutations. The returned
// deregistration function may be called any number of times.
func (b *FileBridge) Subscribe(callback func(*Session)) func() {
	b.lock.Lock()
	defer b.lock.Unlock()

	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = callback

	return func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		delete(b.subs, id)
	}
}

// Close stops the watcher and the dispatch goroutine.
func (b *FileBridge) Close() error {
	b.lock.Lock()
	if b.closed {
		b.lock.Unlock()
		return nil
	}
	b.closed = true
	if b.pending != nil {
		b.pending.Stop()
	}
	b.lock.Unlock()

	err := b.watcher.Close()
	<-b.done
	return err
}

func (b *FileBridge) run(persistentPath, volatilePath string) {
	defer close(b.done)
	for {
		select {
		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if !b.relevant(event, persistentPath, volatilePath) {
				continue
			}
			b.scheduleDispatch(event.Name)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Debug().Err(err).Msg("session watch error")
		}
	}
}

func (b *FileBridge) relevant(event fsnotify.Event, persistentPath, volatilePath string) bool {
	if event.Name != persistentPath && event.Name != volatilePath {
		return false
	}
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}

// scheduleDispatch coalesces the event burst of a single mutation and then
// delivers the freshly loaded session, unless the mutation was our own.
func (b *FileBridge) scheduleDispatch(path string) {
	if b.ownMutation(path) {
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return
	}
	if b.pending != nil {
		b.pending.Stop()
	}
	b.pending = time.AfterFunc(debounceWindow, b.dispatch)
}

// ownMutation reads the touched tier's writer ID. Attribution is best
// effort: a file that vanished or cannot be parsed is treated as foreign so
// the state is re-read rather than silently dropped.
func (b *FileBridge) ownMutation(path string) bool {
	env, ok := b.store.readEnvelope(path)
	if !ok {
		return false
	}
	return env.WriterID == b.store.WriterID()
}

func (b *FileBridge) dispatch() {
	current, err := b.store.Load()
	if err != nil {
		b.logger.Debug().Err(err).Msg("session reload failed after foreign mutation")
		return
	}

	b.lock.Lock()
	callbacks := make([]func(*Session), 0, len(b.subs))
	for _, cb := range b.subs {
		callbacks = append(callbacks, cb)
	}
	b.lock.Unlock()

	for _, cb := range callbacks {
		cb(current.Clone())
	}
}

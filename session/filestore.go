package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// envelope is the on-disk record. WriterID attributes every mutation,
// including clears, to the store instance that made it so a FileBridge can
// filter out its own process's writes. A nil Session is a tombstone: the
// tier exists but holds no session.
type envelope struct {
	WriterID string   `json:"writerId,omitempty"`
	Session  *Session `json:"session"`
}

// FileStore keeps the session in two single-record JSON files: a persistent
// tier that survives restarts and a volatile tier placed somewhere the OS
// reclaims (the temp dir by default). Exactly one tier holds the
// authoritative copy at any time, selected by the remember flag.
type FileStore struct {
	persistentPath string
	volatilePath   string
	writerID       string
	nowTime        func() time.Time
	logger         zerolog.Logger

	lock sync.Mutex

	subLock   sync.Mutex
	onChange  map[int]func(*Session)
	nextSubID int
}

// FileStoreOption modifies a FileStore during construction.
type FileStoreOption func(*FileStore)

// WithNowTime sets the clock used to stamp UpdatedAt (primarily for testing).
func WithNowTime(nowFunc func() time.Time) FileStoreOption {
	return func(f *FileStore) {
		f.nowTime = nowFunc
	}
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(logger zerolog.Logger) FileStoreOption {
	return func(f *FileStore) {
		f.logger = logger
	}
}

// DefaultPaths returns the conventional tier locations for an application:
// the persistent tier under the user config dir, the volatile tier under the
// OS temp dir, where it does not survive a reboot or temp cleanup.
func DefaultPaths(appName string) (persistentPath, volatilePath string, err error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", "", errors.Wrap(err, "[DefaultPaths] os.UserConfigDir")
	}
	persistentPath = filepath.Join(configDir, appName, "session.json")
	volatilePath = filepath.Join(os.TempDir(), appName+"-session.json")
	return persistentPath, volatilePath, nil
}

// NewFileStore creates a store over the two tier files. Parent directories
// are created as needed.
func NewFileStore(persistentPath, volatilePath string, options ...FileStoreOption) (*FileStore, error) {
	if persistentPath == "" {
		return nil, errors.New("[NewFileStore] persistentPath is required")
	}
	if volatilePath == "" {
		return nil, errors.New("[NewFileStore] volatilePath is required")
	}
	if persistentPath == volatilePath {
		return nil, errors.New("[NewFileStore] tiers must use distinct paths")
	}

	store := &FileStore{
		persistentPath: persistentPath,
		volatilePath:   volatilePath,
		writerID:       uuid.New().String(),
		nowTime:        time.Now,
		logger:         zerolog.Nop(),
		onChange:       make(map[int]func(*Session)),
	}
	for _, opt := range options {
		opt(store)
	}

	for _, path := range []string{persistentPath, volatilePath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "[NewFileStore] mkdir")
		}
	}
	return store, nil
}

var (
	_ Store          = (*FileStore)(nil)
	_ ChangeNotifier = (*FileStore)(nil)
)

// OnChange registers a callback for this store instance's own mutations. The
// callback runs synchronously inside Persist and Clear, after the write has
// reached disk.
func (f *FileStore) OnChange(callback func(*Session)) (unsubscribe func()) {
	f.subLock.Lock()
	defer f.subLock.Unlock()

	id := f.nextSubID
	f.nextSubID++
	f.onChange[id] = callback

	return func() {
		f.subLock.Lock()
		defer f.subLock.Unlock()
		delete(f.onChange, id)
	}
}

func (f *FileStore) notifyChange(s *Session) {
	f.subLock.Lock()
	callbacks := make([]func(*Session), 0, len(f.onChange))
	for _, cb := range f.onChange {
		callbacks = append(callbacks, cb)
	}
	f.subLock.Unlock()

	for _, cb := range callbacks {
		cb(s.Clone())
	}
}

// Load reads the persistent tier first, then the volatile tier. A tier that
// is missing, empty, or corrupt is treated as holding no session.
func (f *FileStore) Load() (*Session, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.loadLocked(), nil
}

func (f *FileStore) loadLocked() *Session {
	for _, path := range []string{f.persistentPath, f.volatilePath} {
		env, ok := f.readEnvelope(path)
		if ok && env.Session != nil {
			return env.Session.Normalized()
		}
	}
	return nil
}

// Persist stamps the session, writes it to the tier selected by
// opts.Remember and tombstones the other tier so it cannot serve a stale
// read. Returns the normalized session as written.
func (f *FileStore) Persist(s *Session, opts PersistOptions) (*Session, error) {
	if s == nil {
		return nil, errors.New("[FileStore.Persist] session is required")
	}

	f.lock.Lock()

	stored := s.Normalized()
	if stored == nil {
		stored = &Session{}
	}
	stored.Remember = opts.Remember
	stored.stamp(f.nowTime())

	target, other := f.volatilePath, f.persistentPath
	if opts.Remember {
		target, other = f.persistentPath, f.volatilePath
	}

	if err := f.writeEnvelope(target, &envelope{WriterID: f.writerID, Session: stored}); err != nil {
		f.lock.Unlock()
		return nil, errors.Wrap(err, "[FileStore.Persist] write")
	}
	if err := f.writeEnvelope(other, &envelope{WriterID: f.writerID}); err != nil {
		f.lock.Unlock()
		return nil, errors.Wrap(err, "[FileStore.Persist] clear other tier")
	}
	f.lock.Unlock()

	written := stored.Normalized()
	f.notifyChange(written)
	f.logger.Debug().Bool("remember", opts.Remember).Msg("session persisted")
	return written, nil
}

// Clear tombstones both tiers. Safe to call when no session exists.
func (f *FileStore) Clear() error {
	f.lock.Lock()

	for _, path := range []string{f.persistentPath, f.volatilePath} {
		if err := f.writeEnvelope(path, &envelope{WriterID: f.writerID}); err != nil {
			f.lock.Unlock()
			return errors.Wrap(err, "[FileStore.Clear] write tombstone")
		}
	}
	f.lock.Unlock()

	f.notifyChange(nil)
	f.logger.Debug().Msg("session cleared")
	return nil
}

// WriterID identifies this store instance's mutations on disk.
func (f *FileStore) WriterID() string {
	return f.writerID
}

// Paths returns the two tier file paths, persistent first.
func (f *FileStore) Paths() (persistentPath, volatilePath string) {
	return f.persistentPath, f.volatilePath
}

// readEnvelope parses a tier file. The second return value is false when the
// file is absent or does not contain a valid envelope; corrupt data is
// logged and then treated as absence.
func (f *FileStore) readEnvelope(path string) (*envelope, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.logger.Debug().Err(err).Str("path", path).Msg("session tier unreadable")
		}
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug().Err(err).Str("path", path).Msg("session tier corrupt, ignoring")
		return nil, false
	}
	return &env, true
}

// writeEnvelope writes atomically via a temp file and rename, so a reader in
// another process never observes a torn record.
func (f *FileStore) writeEnvelope(path string, env *envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

package session

// PersistOptions control how a session is written.
type PersistOptions struct {
	// Remember selects the persistent tier when true, the volatile tier
	// otherwise. The tier that was not selected is cleared so it can never
	// serve a stale fallback read.
	Remember bool
}

// Store is the single authoritative holder of the Session. All mutations of
// the shared state go through Persist and Clear; no other component touches
// the backing storage directly.
//
// Corrupt or unparsable stored data is treated as the absence of a session,
// never surfaced as an error.
type Store interface {
	// Load reads the current session, persistent tier first, volatile tier
	// second. Returns (nil, nil) when neither tier holds a parsable session.
	Load() (*Session, error)

	// Persist stamps UpdatedAt, writes the session to the tier selected by
	// opts.Remember, clears the other tier and returns the normalized
	// session that was written.
	Persist(s *Session, opts PersistOptions) (*Session, error)

	// Clear removes the session from both tiers unconditionally. Idempotent.
	Clear() error
}

// ChangeNotifier is implemented by stores that announce their own mutations
// to in-process listeners. A Bridge only carries foreign writes, so any
// component that mutates the store directly (an HTTP client clearing the
// session after a rejected refresh, for example) would otherwise be
// invisible to the rest of the process.
type ChangeNotifier interface {
	// OnChange registers callback to be invoked synchronously with the
	// session as written (or nil after a clear) whenever this store
	// instance mutates its backing storage. The returned function
	// deregisters the callback and is safe to call multiple times.
	OnChange(callback func(*Session)) (unsubscribe func())
}

// Bridge delivers session mutations made by other processes sharing the same
// backing storage. A process's own writes are observed synchronously through
// its Store and are never redelivered here.
type Bridge interface {
	// Subscribe registers callback to receive the freshly loaded session
	// (or nil after a clear) whenever a foreign process mutates the shared
	// storage. The returned function deregisters the callback and is safe
	// to call multiple times.
	Subscribe(callback func(*Session)) (unsubscribe func())
}

package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// refreshState is the explicit coordination state of the token refresher.
// At most one exchange runs at a time; everyone else attaches to it.
type refreshState int

const (
	refreshIdle refreshState = iota
	refreshRunning
)

type refreshResult struct {
	accessToken string
	err         error
}

// refresher owns the single-flight refresh exchange. Concurrent callers of
// Await while an exchange is running register as waiters on the same
// in-flight attempt and are all released together when it settles, instead
// of starting exchanges of their own.
type refresher struct {
	store    session.Store
	exchange func(ctx context.Context, refreshToken string) (*tokenResponse, error)
	logger   zerolog.Logger
	metrics  *Metrics

	lock    sync.Mutex
	state   refreshState
	waiters []chan refreshResult
}

func newRefresher(store session.Store, exchange func(ctx context.Context, refreshToken string) (*tokenResponse, error), logger zerolog.Logger, metrics *Metrics) *refresher {
	return &refresher{
		store:    store,
		exchange: exchange,
		logger:   logger,
		metrics:  metrics,
	}
}

// Await returns a fresh access token, starting an exchange if none is in
// flight or attaching to the running one otherwise. On an unrecoverable
// refresh (server 401 or no refresh token) the session has already been
// cleared when Await returns and the error matches ErrAuthenticationExpired.
// A transport failure is returned as-is and leaves the session intact.
func (r *refresher) Await(ctx context.Context) (string, error) {
	r.lock.Lock()
	ch := make(chan refreshResult, 1)
	r.waiters = append(r.waiters, ch)
	if r.state == refreshIdle {
		r.state = refreshRunning
		go r.run()
	}
	r.lock.Unlock()

	select {
	case res := <-ch:
		return res.accessToken, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// waiting reports how many callers are attached to the in-flight exchange.
func (r *refresher) waiting() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.waiters)
}

// run performs one refresh exchange and settles every waiter, including
// those that attached while the exchange was running. The exchange itself
// is never cancelled by an individual caller: a caller abandoning Await
// must not strand the others.
func (r *refresher) run() {
	r.metrics.incRefreshAttempts()

	current, err := r.store.Load()
	if err != nil {
		r.settle(refreshResult{err: errors.Wrap(err, "[refresher.run] load session")})
		return
	}
	if current == nil || current.RefreshToken == "" {
		// Refresh-less session: fail fast and tear down rather than retry.
		r.teardown()
		r.settle(refreshResult{err: fmt.Errorf("%w: %w", ErrAuthenticationExpired, ErrNoRefreshToken)})
		return
	}

	resp, err := r.exchange(context.Background(), current.RefreshToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == 401 {
			// The server rejected the refresh token outright. Terminal.
			r.teardown()
			r.settle(refreshResult{err: errors.Wrapf(ErrAuthenticationExpired, "refresh rejected: %s", apiErr)})
			return
		}
		// Transient failure: terminal for this cycle, but the stored
		// session survives so a later 401 can try again.
		r.metrics.incRefreshFailures()
		r.logger.Warn().Err(err).Msg("token refresh failed, keeping session")
		r.settle(refreshResult{err: errors.Wrap(err, "[refresher.run] refresh exchange")})
		return
	}

	rotated := current.Clone()
	rotated.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		rotated.RefreshToken = resp.RefreshToken
	}
	if resp.User != nil {
		rotated.User = resp.User
	}

	persisted, err := r.store.Persist(rotated, session.PersistOptions{Remember: current.Remember})
	if err != nil {
		r.settle(refreshResult{err: errors.Wrap(err, "[refresher.run] persist rotated session")})
		return
	}

	r.logger.Debug().Msg("access token refreshed")
	r.settle(refreshResult{accessToken: persisted.AccessToken})
}

// teardown clears the session after an unrecoverable refresh.
func (r *refresher) teardown() {
	r.metrics.incRefreshFailures()
	if err := r.store.Clear(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to clear session after refresh failure")
	}
}

// settle releases every registered waiter with the same result and returns
// the refresher to idle.
func (r *refresher) settle(res refreshResult) {
	r.lock.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.state = refreshIdle
	r.lock.Unlock()

	for _, ch := range waiters {
		ch <- res
	}
}

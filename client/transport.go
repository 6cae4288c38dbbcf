package client

import (
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/rs/zerolog"
)

// refreshTransport attaches the stored access token to outbound requests and
// recovers from a 401 exactly once per request: it awaits the shared refresh
// exchange, replays the request with the new token, and treats a second 401
// as terminal. Auth endpoints themselves never pass through this transport.
type refreshTransport struct {
	base      http.RoundTripper
	store     session.Store
	refresher *refresher
	logger    zerolog.Logger
	metrics   *Metrics
}

var _ http.RoundTripper = (*refreshTransport)(nil)

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	current, err := t.store.Load()
	if err != nil {
		return nil, err
	}

	resp, err := t.send(req, current)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// A request whose body cannot be re-sent cannot be replayed; surface
	// the 401 untouched.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	drainAndClose(resp.Body)

	accessToken, err := t.refresher.Await(req.Context())
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w", req.URL.Path, err)
	}

	t.metrics.incRetriedRequests()
	t.logger.Debug().Str("path", req.URL.Path).Msg("replaying request after refresh")

	retry, err := t.refreshedRequest(req)
	if err != nil {
		return nil, err
	}
	retryResp, err := t.send(retry, &session.Session{AccessToken: accessToken})
	if err != nil {
		return nil, err
	}
	if retryResp.StatusCode == http.StatusUnauthorized {
		// Already retried once; never refresh again for this request.
		drainAndClose(retryResp.Body)
		return nil, fmt.Errorf("request to %s rejected after refresh: %w", req.URL.Path, ErrAuthenticationExpired)
	}
	return retryResp, nil
}

func (t *refreshTransport) send(req *http.Request, sess *session.Session) (*http.Response, error) {
	outbound := req.Clone(req.Context())
	if sess != nil && sess.AccessToken != "" {
		outbound.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	}
	return t.base.RoundTrip(outbound)
}

func (t *refreshTransport) refreshedRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return retry, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}

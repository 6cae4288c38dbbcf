// Package client is the HTTP side of the SDK: it exchanges credentials for
// sessions against the auth endpoints and wraps resource requests in a
// transport that attaches the bearer token and transparently recovers from
// access-token expiry via a single-flight refresh.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultTimeout = 30 * time.Second

// Client talks to the back-office API. Resource requests made through Do,
// Get and Post carry the stored access token and participate in the refresh
// interceptor; the auth endpoints bypass it.
type Client struct {
	baseURL     string
	store       session.Store
	httpClient  *http.Client // intercepted: resource requests
	plainClient *http.Client // not intercepted: auth endpoints
	refresher   *refresher
	logger      zerolog.Logger
	metrics     *Metrics
}

// Option defines a function type to modify the Client instance.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport becomes
// the base the refresh interceptor wraps.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.plainClient = httpClient
	}
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics attaches a metrics collector (see NewMetrics). Without one no
// metrics are recorded.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// New creates a Client against baseURL, reading and writing sessions through
// store.
func New(baseURL string, store session.Store, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[client.New] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[client.New] store is required")
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		store:       store,
		plainClient: &http.Client{Timeout: defaultTimeout},
		logger:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}

	c.refresher = newRefresher(store, c.exchangeRefreshToken, c.logger, c.metrics)

	base := c.plainClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.httpClient = &http.Client{
		Timeout: c.plainClient.Timeout,
		Jar:     c.plainClient.Jar,
		Transport: &refreshTransport{
			base:      base,
			store:     store,
			refresher: c.refresher,
			logger:    c.logger,
			metrics:   c.metrics,
		},
	}
	return c, nil
}

// Login exchanges credentials for a session and persists it with the given
// remember preference. Returns the persisted session.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) (*session.Session, error) {
	var resp tokenResponse
	if err := c.postJSON(ctx, RouteLogin, "", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	if resp.AccessToken == "" || resp.User == nil {
		return nil, errors.New("[Client.Login] server returned an incomplete session")
	}

	persisted, err := c.store.Persist(&session.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
	}, session.PersistOptions{Remember: remember})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Login] persist")
	}

	c.logger.Info().Str("user", persisted.User.ID).Msg("login succeeded")
	return persisted, nil
}

// Logout clears the local session and tells the server, in that order of
// importance: the server call is best-effort and its failure never blocks
// the local logout. The stored credentials ride along so the server can
// revoke the right session.
func (c *Client) Logout(ctx context.Context) error {
	current, err := c.store.Load()
	if err != nil {
		return errors.Wrap(err, "[Client.Logout] load session")
	}

	if current != nil {
		if err := c.postJSON(ctx, RouteLogout, current.AccessToken, logoutRequest{RefreshToken: current.RefreshToken}, nil); err != nil {
			c.logger.Warn().Err(err).Msg("server-side logout failed, clearing locally anyway")
		}
	}
	if err := c.store.Clear(); err != nil {
		return errors.Wrap(err, "[Client.Logout] clear")
	}
	return nil
}

// Do sends a resource request through the refresh interceptor.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Get issues an authenticated GET against a path relative to the base URL.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Get] new request")
	}
	return c.Do(req)
}

// Post issues an authenticated POST with a JSON body against a path
// relative to the base URL.
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.Post] marshal body")
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Post] new request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(req)
}

// exchangeRefreshToken calls the refresh endpoint. A 401 comes back as an
// *APIError with that status, which the refresher treats as terminal.
func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	var resp tokenResponse
	if err := c.postJSON(ctx, RouteRefresh, "", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errors.New("[Client.exchangeRefreshToken] server returned no access token")
	}
	return &resp, nil
}

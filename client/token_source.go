package client

import (
	"context"
	"time"

	"github.com/jrsteele09/go-auth-client/token"
	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource view over the stored session,
// for APIs built on golang.org/x/oauth2. Tokens are refreshed through the
// same single-flight refresher the interceptor uses, so a TokenSource and
// concurrent intercepted requests never race into duplicate exchanges.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, client: c}
}

type storeTokenSource struct {
	ctx    context.Context
	client *Client
}

var _ oauth2.TokenSource = (*storeTokenSource)(nil)

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	sess, err := ts.client.store.Load()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotAuthenticated
	}

	claims := token.Decode(sess.AccessToken)
	if claims.Expired(time.Now()) {
		accessToken, err := ts.client.refresher.Await(ts.ctx)
		if err != nil {
			return nil, err
		}
		sess, err = ts.client.store.Load()
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, ErrNotAuthenticated
		}
		sess.AccessToken = accessToken
		claims = token.Decode(accessToken)
	}

	return &oauth2.Token{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    "bearer",
		Expiry:       claims.ExpiresAt,
	}, nil
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
)

// Auth endpoint paths, relative to the base URL. The server side is opaque:
// these are consumed as plain JSON contracts.
const (
	RouteLogin   = "/auth/login"
	RouteRefresh = "/auth/refresh-token"
	RouteLogout  = "/auth/logout"
)

const contentTypeJSON = "application/json; charset=utf-8"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// logoutRequest carries the refresh token so the server can revoke the
// session it belongs to.
type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// tokenResponse is the success payload of both the login and refresh
// endpoints. RefreshToken and User are optional on refresh: an absent
// refresh token means the server did not rotate it, an absent user means
// the profile is unchanged.
type tokenResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken,omitempty"`
	User         *session.UserProfile `json:"user,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// postJSON sends a JSON body to an auth endpoint using the plain (non
// intercepting) HTTP client and decodes the response into out. A non-empty
// bearerToken is attached as the Authorization header. Non-2xx responses
// come back as *APIError.
func (c *Client) postJSON(ctx context.Context, route, bearerToken string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "[Client.postJSON] marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "[Client.postJSON] new request")
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.plainClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[Client.postJSON] POST %s", route)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiErrorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "[Client.postJSON] decode %s response", route)
	}
	return nil
}

func apiErrorFromResponse(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}
	var body errorResponse
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}

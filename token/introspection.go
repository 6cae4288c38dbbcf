// Package token decodes access-token payloads for client-side, advisory use:
// deciding when to warn about an upcoming expiry or whether a refresh is
// worth attempting before a request. Nothing here verifies a signature and
// nothing here may gate an authorization decision; the server is always the
// authority on a token's validity.
package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims holds the subset of payload claims the client cares about. A token
// that cannot be decoded yields the zero Claims value.
type Claims struct {
	Subject   string    // Users unique ID
	Email     string    // Email claim, if present
	Tenant    string    // Tenant the token was issued for
	Roles     []string  // Roles assigned to the user
	IssuedAt  time.Time // Issued at time
	ExpiresAt time.Time // Expiration
}

// Decode extracts the payload claims of a JWT without verifying its
// signature. Malformed input of any kind (wrong segment count, undecodable
// payload, non-JWT garbage) yields the zero Claims, never an error.
func Decode(rawToken string) Claims {
	if strings.TrimSpace(rawToken) == "" {
		return Claims{}
	}

	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return Claims{}
	}

	claims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return Claims{}
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	tenant, _ := claims["tenant"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)

	var roles []string
	if claimRoles, ok := claims["roles"].([]any); ok {
		roles = toStringSlice(claimRoles)
	}

	decoded := Claims{
		Subject: sub,
		Email:   email,
		Tenant:  tenant,
		Roles:   roles,
	}
	if iat != 0 {
		decoded.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp != 0 {
		decoded.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return decoded
}

// HasExpiry reports whether the token carried an exp claim.
func (c Claims) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// Expired reports whether the token's exp claim is in the past. A token
// without an exp claim is never considered expired here; the server decides.
func (c Claims) Expired(now time.Time) bool {
	return c.HasExpiry() && now.After(c.ExpiresAt)
}

// ExpiresWithin reports whether the token expires inside the given window,
// for pre-emptive refresh or UX warnings.
func (c Claims) ExpiresWithin(window time.Duration, now time.Time) bool {
	return c.HasExpiry() && now.Add(window).After(c.ExpiresAt)
}

func toStringSlice(slice []any) []string {
	stringSlice := make([]string, 0)
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

package session

import "time"

// UserProfile is the denormalized identity the auth server returns alongside
// a token pair. It is a read-only snapshot of the back-office user; the
// server remains the source of truth for every field.
type UserProfile struct {
	ID           string `json:"id,omitempty"`           // Unique identifier for the user
	Email        string `json:"email,omitempty"`        // User's email address
	Username     string `json:"username,omitempty"`     // Unique username
	FirstName    string `json:"firstName,omitempty"`    // First name of the user
	LastName     string `json:"lastName,omitempty"`     // Last name of the user
	Role         string `json:"role,omitempty"`         // Role within the tenant (owner, staff, ...)
	TenantID     string `json:"tenantId,omitempty"`     // Tenant the user belongs to
	BusinessName string `json:"businessName,omitempty"` // Display name of the tenant's business
}

// Session is the authenticated client state: the token pair, the profile of
// the user they belong to, and the persistence preference. A Session is owned
// exclusively by a Store; everything else holds transient snapshots.
type Session struct {
	AccessToken  string       `json:"accessToken,omitempty"`  // Short-lived bearer credential
	RefreshToken string       `json:"refreshToken,omitempty"` // Long-lived credential, only used to mint new access tokens
	User         *UserProfile `json:"user,omitempty"`         // Identity the tokens were issued for
	Remember     bool         `json:"remember,omitempty"`     // Survive process restarts (persistent tier) or not (volatile tier)
	UpdatedAt    int64        `json:"updatedAt,omitempty"`    // Unix milliseconds of the last mutation, resolves cross-process races
}

// Authenticated reports whether the session carries a usable identity.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != "" && s.User != nil
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the stored value to mutation.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.User != nil {
		user := *s.User
		clone.User = &user
	}
	return &clone
}

// Normalized enforces the identity/credential invariant: a user without an
// access token and an access token without a user are both meaningless, so
// either half alone is discarded. A session reduced to nothing but a
// refresh token (or less) normalizes to nil.
func (s *Session) Normalized() *Session {
	if s == nil {
		return nil
	}
	clone := s.Clone()
	if clone.AccessToken == "" || clone.User == nil {
		clone.AccessToken = ""
		clone.User = nil
	}
	if clone.AccessToken == "" {
		return nil
	}
	return clone
}

func (s *Session) stamp(now time.Time) {
	s.UpdatedAt = now.UnixMilli()
}

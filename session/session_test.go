package session_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

func TestNormalizedDropsOrphanedIdentity(t *testing.T) {
	s := &session.Session{User: &session.UserProfile{ID: "u1"}}
	require.Nil(t, s.Normalized())
}

func TestNormalizedDropsOrphanedCredential(t *testing.T) {
	s := &session.Session{AccessToken: "token"}
	require.Nil(t, s.Normalized())
}

func TestNormalizedKeepsCompleteSession(t *testing.T) {
	s := &session.Session{
		AccessToken:  "token",
		RefreshToken: "refresh",
		User:         &session.UserProfile{ID: "u1"},
	}
	normalized := s.Normalized()
	require.NotNil(t, normalized)
	require.Equal(t, "token", normalized.AccessToken)
	require.Equal(t, "refresh", normalized.RefreshToken)
	require.Equal(t, "u1", normalized.User.ID)
}

func TestNormalizedRefreshTokenAloneIsNoSession(t *testing.T) {
	s := &session.Session{RefreshToken: "refresh"}
	require.Nil(t, s.Normalized())
}

func TestAuthenticated(t *testing.T) {
	var nilSession *session.Session
	require.False(t, nilSession.Authenticated())
	require.False(t, (&session.Session{AccessToken: "token"}).Authenticated())
	require.True(t, (&session.Session{AccessToken: "token", User: &session.UserProfile{ID: "u1"}}).Authenticated())
}

func TestCloneIsDeep(t *testing.T) {
	original := &session.Session{
		AccessToken: "token",
		User:        &session.UserProfile{ID: "u1", Email: "a@b.c"},
	}
	clone := original.Clone()
	clone.User.Email = "changed@b.c"
	require.Equal(t, "a@b.c", original.User.Email)

	var nilSession *session.Session
	require.Nil(t, nilSession.Clone())
}

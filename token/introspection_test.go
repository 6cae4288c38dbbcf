package token_test

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

func mintToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSigningKey)
	require.NoError(t, err)
	return signed
}

func TestDecodeExtractsClaims(t *testing.T) {
	issued := time.Now().Add(-time.Minute)
	expires := time.Now().Add(15 * time.Minute)

	raw := mintToken(t, jwtlib.MapClaims{
		"sub":    "u1",
		"email":  "john.doe@example.com",
		"tenant": "tenant-1",
		"roles":  []string{"owner", "admin"},
		"iat":    issued.Unix(),
		"exp":    expires.Unix(),
	})

	claims := token.Decode(raw)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "john.doe@example.com", claims.Email)
	require.Equal(t, "tenant-1", claims.Tenant)
	require.Equal(t, []string{"owner", "admin"}, claims.Roles)
	require.Equal(t, issued.Unix(), claims.IssuedAt.Unix())
	require.Equal(t, expires.Unix(), claims.ExpiresAt.Unix())
}

func TestDecodeIgnoresSignature(t *testing.T) {
	// The signature is never checked: a token signed with an unknown key
	// still yields claims. Decoding is advisory only.
	raw := mintToken(t, jwtlib.MapClaims{"sub": "u1"})
	claims := token.Decode(raw)
	require.Equal(t, "u1", claims.Subject)
	require.False(t, claims.HasExpiry())
}

func TestDecodeMalformedInput(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":              "",
		"whitespace":         "   ",
		"not a token":        "hello world",
		"two segments":       "aaaa.bbbb",
		"four segments":      "aaaa.bbbb.cccc.dddd",
		"undecodable middle": "aaaa.!!!!.cccc",
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, token.Claims{}, token.Decode(raw))
		})
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()

	live := token.Decode(mintToken(t, jwtlib.MapClaims{"exp": now.Add(time.Hour).Unix()}))
	require.False(t, live.Expired(now))

	expired := token.Decode(mintToken(t, jwtlib.MapClaims{"exp": now.Add(-time.Hour).Unix()}))
	require.True(t, expired.Expired(now))

	// No exp claim: never locally expired, the server decides.
	noExpiry := token.Decode(mintToken(t, jwtlib.MapClaims{"sub": "u1"}))
	require.False(t, noExpiry.Expired(now))
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()
	claims := token.Decode(mintToken(t, jwtlib.MapClaims{"exp": now.Add(5 * time.Minute).Unix()}))

	require.True(t, claims.ExpiresWithin(10*time.Minute, now))
	require.False(t, claims.ExpiresWithin(time.Minute, now))
}

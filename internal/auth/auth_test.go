package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func enabled() *Authenticator {
	return New(Config{Enabled: true, JWTSecret: testSecret, Issuer: "notifyd"})
}

func token(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	signed, err := GenerateToken(testSecret, "notifyd", userID, ttl)
	require.NoError(t, err)
	return signed
}

func TestResolveWithAuthDisabled(t *testing.T) {
	a := New(Config{})

	user, err := a.Resolve("", "", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", user)

	_, err = a.Resolve("", "", "  ")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveWithAuthEnabled(t *testing.T) {
	a := enabled()
	bob := token(t, "bob", time.Hour)

	tests := []struct {
		name          string
		authorization string
		queryToken    string
		requested     string
		want          string
		err           error
	}{
		{"bearer header", "Bearer " + bob, "", "", "bob", nil},
		{"query token", "", bob, "", "bob", nil},
		{"matching requested user", "Bearer " + bob, "", "bob", "bob", nil},
		{"other user", "Bearer " + bob, "", "alice", "", ErrForbidden},
		{"missing token", "", "", "bob", "", ErrUnauthenticated},
		{"not a bearer", "Basic Ym9iOnB3", "", "", "", ErrUnauthenticated},
		{"garbage token", "Bearer not-a-token", "", "", "", ErrUnauthenticated},
		{"expired token", "Bearer " + token(t, "bob", -time.Minute), "", "", "", ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := a.Resolve(tt.authorization, tt.queryToken, tt.requested)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, user)
		})
	}
}

func TestParseTokenRejectsWrongSecretAndIssuer(t *testing.T) {
	a := enabled()

	forged, err := GenerateToken("other-secret", "notifyd", "bob", time.Hour)
	require.NoError(t, err)
	_, err = a.ParseToken(forged)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	foreign, err := GenerateToken(testSecret, "someone-else", "bob", time.Hour)
	require.NoError(t, err)
	_, err = a.ParseToken(foreign)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestParseTokenFallsBackToUserIDClaim(t *testing.T) {
	a := New(Config{Enabled: true, JWTSecret: testSecret})

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "carol",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	user, err := a.ParseToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "carol", user)
}

func TestResolveRequest(t *testing.T) {
	a := enabled()

	r := httptest.NewRequest(http.MethodGet, "/notifications/unread?userId=bob", nil)
	r.Header.Set("Authorization", "Bearer "+token(t, "bob", time.Hour))

	user, err := a.ResolveRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestCheckProducer(t *testing.T) {
	assert.NoError(t, New(Config{}).CheckProducer(""))

	a := New(Config{ProducerToken: "s3cret"})
	assert.NoError(t, a.CheckProducer("s3cret"))
	assert.ErrorIs(t, a.CheckProducer(""), ErrForbidden)
	assert.ErrorIs(t, a.CheckProducer("guess"), ErrForbidden)
}

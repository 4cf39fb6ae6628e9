// Package auth resolves who is calling: the user opening a session or
// reading their notifications, and whether a caller may produce
// notifications.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated is returned when no valid identity was presented
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when an authenticated caller asks for
	// another user's data or lacks the producer token
	ErrForbidden = errors.New("forbidden")
)

// Config contains authentication configuration
type Config struct {
	// Require signed tokens for consumer endpoints and sessions
	Enabled bool

	// HS256 signing secret
	JWTSecret string

	// Expected token issuer, empty accepts any
	Issuer string

	// Shared secret producers send in X-Producer-Token, empty disables the check
	ProducerToken string
}

// Claims are the token claims; the user is the subject, with user_id as a
// fallback for tokens minted by other services
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// Authenticator resolves caller identity
type Authenticator struct {
	config Config
	parser *jwt.Parser
}

// New creates an authenticator
func New(config Config) *Authenticator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	return &Authenticator{
		config: config,
		parser: jwt.NewParser(opts...),
	}
}

// Enabled reports whether tokens are required
func (a *Authenticator) Enabled() bool {
	return a.config.Enabled
}

// Resolve returns the caller's user id.
//
// With authentication disabled the requested user is trusted as given. With
// it enabled the identity comes from the bearer token (the Authorization
// header, or the token query parameter for browser websocket and
// EventSource clients), and a requested user that differs is forbidden.
func (a *Authenticator) Resolve(authorization, queryToken, requestedUser string) (string, error) {
	requestedUser = strings.TrimSpace(requestedUser)

	if !a.config.Enabled {
		if requestedUser == "" {
			return "", fmt.Errorf("%w: user identity is required", ErrUnauthenticated)
		}
		return requestedUser, nil
	}

	token := queryToken
	if authorization != "" {
		bearer, found := strings.CutPrefix(authorization, "Bearer ")
		if !found {
			return "", fmt.Errorf("%w: malformed authorization header", ErrUnauthenticated)
		}
		token = bearer
	}
	if token == "" {
		return "", fmt.Errorf("%w: bearer token is required", ErrUnauthenticated)
	}

	userID, err := a.ParseToken(token)
	if err != nil {
		return "", err
	}
	if requestedUser != "" && requestedUser != userID {
		return "", fmt.Errorf("%w: token does not belong to %s", ErrForbidden, requestedUser)
	}
	return userID, nil
}

// ResolveRequest applies Resolve to an HTTP request. The requested user is
// taken from the userId query parameter.
func (a *Authenticator) ResolveRequest(r *http.Request) (string, error) {
	query := r.URL.Query()
	return a.Resolve(r.Header.Get("Authorization"), query.Get("token"), query.Get("userId"))
}

// ParseToken validates a signed token and returns its user id
func (a *Authenticator) ParseToken(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid token: %v", ErrUnauthenticated, err)
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return userID, nil
}

// CheckProducer verifies the producer token
func (a *Authenticator) CheckProducer(token string) error {
	if a.config.ProducerToken == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.config.ProducerToken)) != 1 {
		return fmt.Errorf("%w: producer token required", ErrForbidden)
	}
	return nil
}

// GenerateToken signs a token for userID valid for ttl
func GenerateToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

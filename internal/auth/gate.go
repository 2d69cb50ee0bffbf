// Package auth verifies the bearer credential a client presents when it opens
// a realtime connection and turns it into a UserIdentity snapshot.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nearme/backend/internal/models"
	"nearme/backend/internal/storage"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnknownUser       = errors.New("unknown user")
)

// AuthError is returned by Authenticate. Reason is one of the Err* sentinels
// above, so callers can use errors.Is.
type AuthError struct {
	Reason error
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Reason, e.Err)
	}
	return e.Reason.Error()
}

func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Reason, e.Err}
	}
	return []error{e.Reason}
}

// UserLookup is the slice of storage the gate needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// Claims is the JWT payload. The subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
}

type Gate struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  UserLookup
	now    func() time.Time
}

func NewGate(secret, issuer string, ttl time.Duration, users UserLookup) *Gate {
	return &Gate{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		users:  users,
		now:    time.Now,
	}
}

// IssueToken signs a token for userID valid for the configured TTL.
func (g *Gate) IssueToken(userID string) (string, error) {
	now := g.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Authenticate verifies credential and resolves the user it names.
func (g *Gate) Authenticate(ctx context.Context, credential string) (models.UserIdentity, error) {
	if credential == "" {
		return models.UserIdentity{}, &AuthError{Reason: ErrMissingCredential}
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return models.UserIdentity{}, &AuthError{Reason: ErrInvalidCredential, Err: err}
	}
	if !token.Valid || claims.Subject == "" {
		return models.UserIdentity{}, &AuthError{Reason: ErrInvalidCredential}
	}

	user, err := g.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		return models.UserIdentity{}, &AuthError{Reason: ErrUnknownUser}
	}
	if err != nil {
		// A store outage cannot prove the user exists; refuse the handshake.
		return models.UserIdentity{}, &AuthError{Reason: ErrUnknownUser, Err: err}
	}
	return user.Identity(), nil
}

// Package auth resolves bearer credentials on the billing API. Browser
// clients present the auth provider's HS256 access token; trusted backends
// present the service-role key and act as the system actor.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storymagic/internal/config"
	"storymagic/internal/types"
)

// Actor sources recorded on types.Actor.
const (
	SourceJWT         = "jwt"
	SourceServiceRole = "service_role"
)

// systemActorID identifies service-role callers in logs.
const systemActorID = "service_role"

// Claims is the subset of the access token the service reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator implements core.Authenticator.
type JWTAuthenticator struct {
	secret         []byte
	audience       string
	serviceRoleKey []byte
	leeway         time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a JWTAuthenticator.
type Option func(*JWTAuthenticator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *JWTAuthenticator) { a.now = now }
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(a *JWTAuthenticator) { a.leeway = d }
}

func NewJWTAuthenticator(cfg config.AuthConfig, logger *slog.Logger, opts ...Option) *JWTAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &JWTAuthenticator{
		secret:         []byte(cfg.JWTSecret.Unmask()),
		audience:       cfg.JWTAudience,
		serviceRoleKey: []byte(cfg.ServiceRoleKey.Unmask()),
		leeway:         30 * time.Second,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ResolveToken returns the system actor for the service-role key and a user
// actor for a valid access token. The token's "sub" claim is the user id.
func (a *JWTAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "token is empty", nil)
	}

	if len(a.serviceRoleKey) > 0 && subtle.ConstantTimeCompare([]byte(token), a.serviceRoleKey) == 1 {
		return &types.Actor{ID: systemActorID, Type: types.ActorTypeSystem, Source: SourceServiceRole}, nil
	}

	if len(a.secret) == 0 {
		return nil, types.NewAppError(types.ErrCodeInternalConfiguration, "JWT secret not configured", nil)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	}
	if a.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		a.logger.DebugContext(ctx, "access token rejected", "error", err.Error())
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is invalid", err)
	}

	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}
	// A service-role JWT is a backend credential, not a user session.
	if claims.Role == "service_role" {
		return &types.Actor{ID: systemActorID, Type: types.ActorTypeSystem, Source: SourceServiceRole}, nil
	}

	return &types.Actor{
		ID:     claims.Subject,
		Type:   types.ActorTypeUser,
		Email:  claims.Email,
		Source: SourceJWT,
	}, nil
}

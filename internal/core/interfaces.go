package core

import (
	"context"

	"storymagic/internal/types"
)

// Authenticator resolves a bearer credential to an Actor. It decouples the
// HTTP layer from the token format so tests can inject MockAuthenticator.
//
// Implementations must return an AppError with ErrCodeAuthTokenExpired for
// an expired token and ErrCodeAuthTokenInvalid for anything else that fails.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// HealthProbe is a dependency checked by GET /health.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

package core

import (
	"context"
	"sync"
	"time"

	"storymagic/internal/types"
)

// --- MockAuthenticator ---

// MockAuthenticator implements Authenticator for tests. It returns Actor, or
// Err when set. ResolveTokenFunc overrides both.
//
//	auth := &MockAuthenticator{
//	    Actor: &types.Actor{ID: "user_42", Type: types.ActorTypeUser},
//	}
type MockAuthenticator struct {
	Actor            *types.Actor
	Err              error
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// --- MockMetricsCollector ---

// MetricsCall is one RecordRequest observation.
type MetricsCall struct {
	Method, Endpoint, Status string
	Duration                 time.Duration
}

// MockMetricsCollector records RecordRequest calls.
type MockMetricsCollector struct {
	mu    sync.Mutex
	Calls []MetricsCall
}

func (m *MockMetricsCollector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MetricsCall{method, endpoint, status, duration})
}

// --- StaticProbe ---

// StaticProbe is a HealthProbe that returns a fixed result.
type StaticProbe struct {
	ProbeName string
	Err       error
}

func (p StaticProbe) Name() string                { return p.ProbeName }
func (p StaticProbe) Check(context.Context) error { return p.Err }

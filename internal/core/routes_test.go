package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"storymagic/internal/types"
)

func mountedServer(t *testing.T) *Server {
	t.Helper()
	srv := newTestServer(t)
	srv.Authenticator = &MockAuthenticator{Actor: &types.Actor{ID: "user_42", Type: types.ActorTypeUser}}
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, func(r chi.Router) {
		r.HandleFunc("/webhooks/stripe", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/subscription", func(w http.ResponseWriter, r *http.Request) {
			actor, _ := types.GetActor(r.Context())
			JSON(w, r, http.StatusOK, map[string]string{"user": actor.ID})
		})
	})
	srv.MountRoutes()
	return srv
}

func TestMountRoutes_PublicRouteSkipsAuth(t *testing.T) {
	srv := mountedServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header on public route")
	}
}

func TestMountRoutes_V1RequiresAuth(t *testing.T) {
	srv := mountedServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/subscription", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header on auth failure")
	}

	r := httptest.NewRequest(http.MethodGet, "/v1/subscription", nil)
	r.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestMountRoutes_OptionsAnywhere(t *testing.T) {
	srv := mountedServer(t)

	for _, path := range []string{"/webhooks/stripe", "/v1/subscription", "/v1/checkout-sessions"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, path, nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("%s: expected 204, got %d", path, w.Code)
		}
	}
}

func TestMountRoutes_NotFound(t *testing.T) {
	srv := mountedServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Code != string(types.ErrCodeNotFoundRoute) {
		t.Errorf("unexpected code %q", body.Code)
	}
}

func TestMountRoutes_Health(t *testing.T) {
	srv := mountedServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequestIDMiddleware_Propagates(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "req-abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if seen != "req-abc" || w.Header().Get("X-Request-Id") != "req-abc" {
		t.Errorf("expected propagated id, got ctx=%q header=%q", seen, w.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDMiddleware_Generates(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 36 {
		t.Errorf("expected a UUID, got %q", seen)
	}
}

package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Covenant-Gate/Covenantgate/internal/adapter/outbound/memory"
	"github.com/Covenant-Gate/Covenantgate/internal/domain/auth"
)

func TestRequestIDMiddleware_PassesThroughClientID(t *testing.T) {
	t.Parallel()

	var seen string
	handler := RequestIDMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-abc" {
		t.Errorf("context request id = %q, want req-abc", seen)
	}
	if rec.Header().Get("X-Request-ID") != "req-abc" {
		t.Errorf("response header = %q, want req-abc", rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDMiddleware_GeneratesWhenMissing(t *testing.T) {
	t.Parallel()

	var seen string
	handler := RequestIDMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated request id %q is not a uuid: %v", seen, err)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Error("response header should carry the generated id")
	}
}

func TestRequestIDMiddleware_EnrichesLogger(t *testing.T) {
	t.Parallel()

	handler := RequestIDMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if LoggerFromContext(r.Context()) == nil {
			t.Error("no logger in context")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	// Outside a request the fallback is the default logger.
	if LoggerFromContext(context.Background()) == nil {
		t.Error("LoggerFromContext should fall back to the default logger")
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewAuthStore()
	if err := store.PutIdentity(ctx, &auth.Identity{ID: "worker-1", Name: "Worker One"}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutAPIKey(ctx, &auth.APIKey{
		Key:       auth.HashKey("good-key"),
		ActorID:   "worker-1",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	keys := auth.NewAPIKeyService(store)

	tests := []struct {
		name      string
		key       string
		wantCode  int
		wantActor string
	}{
		{"valid key resolves identity", "good-key", http.StatusOK, "worker-1"},
		{"unknown key rejected", "bad-key", http.StatusUnauthorized, ""},
		{"missing key rejected", "", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var actor string
			handler := APIKeyMiddleware(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if identity, ok := IdentityFromContext(r.Context()); ok {
					actor = identity.ID
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.key != "" {
				req.Header.Set("X-Api-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if actor != tt.wantActor {
				t.Errorf("actor = %q, want %q", actor, tt.wantActor)
			}
		})
	}
}

func TestIdentityFromContext_Empty(t *testing.T) {
	t.Parallel()

	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}
}

package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/middleware"
	"github.com/chin-flags/fixapp/internal/port/cache/cachetest"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

func countingHandler(status int) (http.Handler, *int) {
	n := 0
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"n":` + strconv.Itoa(n) + `}`))
	}), &n
}

func idemRequest(method, key, tenantID string) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/files", http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if tenantID != "" {
		req = req.WithContext(tenancy.WithTenant(req.Context(), tenancy.Snapshot{TenantID: tenantID}))
	}
	return req
}

func TestIdempotencyReplays(t *testing.T) {
	c := cachetest.NewMemory()
	inner, calls := countingHandler(http.StatusCreated)
	h := middleware.Idempotency(c, time.Hour, nil)(inner)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idemRequest(http.MethodPost, "k1", "t1"))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idemRequest(http.MethodPost, "k1", "t1"))

	if *calls != 1 {
		t.Fatalf("expected one handler call, got %d", *calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay = %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay marker")
	}
}

func TestIdempotencyScopedPerTenant(t *testing.T) {
	c := cachetest.NewMemory()
	inner, calls := countingHandler(http.StatusCreated)
	h := middleware.Idempotency(c, time.Hour, nil)(inner)

	h.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "k1", "t1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest(http.MethodPost, "k1", "t2"))

	if *calls != 2 {
		t.Fatalf("same key in another tenant must not replay, calls = %d", *calls)
	}
	if rec.Body.String() != `{"n":2}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestIdempotencyScopedPerUser(t *testing.T) {
	c := cachetest.NewMemory()
	inner, calls := countingHandler(http.StatusCreated)
	h := middleware.Idempotency(c, time.Hour, nil)(inner)

	as := func(userID string) *http.Request {
		req := idemRequest(http.MethodPost, "k1", "t1")
		return req.WithContext(middleware.WithPrincipal(req.Context(), &user.Principal{UserID: userID, TenantID: "t1"}))
	}

	h.ServeHTTP(httptest.NewRecorder(), as("u-alice"))
	bob := httptest.NewRecorder()
	h.ServeHTTP(bob, as("u-bob"))
	if *calls != 2 {
		t.Fatalf("same key from another user must not replay, calls = %d", *calls)
	}
	if bob.Header().Get("Idempotent-Replayed") != "" || bob.Body.String() != `{"n":2}` {
		t.Fatalf("bob received a replay: %s", bob.Body.String())
	}

	again := httptest.NewRecorder()
	h.ServeHTTP(again, as("u-alice"))
	if *calls != 2 || again.Body.String() != `{"n":1}` {
		t.Fatalf("alice should get her own replay, calls = %d body = %s", *calls, again.Body.String())
	}
}

func TestIdempotencyPassThrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		key    string
		tenant string
	}{
		{"get", http.MethodGet, "k1", "t1"},
		{"no key", http.MethodPost, "", "t1"},
		{"no tenant", http.MethodPost, "k1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cachetest.NewMemory()
			inner, calls := countingHandler(http.StatusOK)
			h := middleware.Idempotency(c, time.Hour, nil)(inner)
			h.ServeHTTP(httptest.NewRecorder(), idemRequest(tt.method, tt.key, tt.tenant))
			h.ServeHTTP(httptest.NewRecorder(), idemRequest(tt.method, tt.key, tt.tenant))
			if *calls != 2 {
				t.Fatalf("expected both requests to reach the handler, got %d", *calls)
			}
			if c.Len() != 0 {
				t.Fatalf("expected nothing cached, got %d", c.Len())
			}
		})
	}
}

func TestIdempotencySkipsErrors(t *testing.T) {
	c := cachetest.NewMemory()
	inner, calls := countingHandler(http.StatusBadRequest)
	h := middleware.Idempotency(c, time.Hour, nil)(inner)

	h.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "k1", "t1"))
	h.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "k1", "t1"))
	if *calls != 2 {
		t.Fatalf("failed responses must not be replayed, calls = %d", *calls)
	}
}

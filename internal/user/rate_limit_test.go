package user

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoginRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	limiter := NewLoginRateLimiter(3, time.Minute)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.allow("1.2.3.4", now)
		if !allowed {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}

	allowed, retryAfter := limiter.allow("1.2.3.4", now)
	if allowed {
		t.Fatalf("fourth hit should be blocked")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retryAfter)
	}

	// Independent IPs are unaffected.
	if allowed, _ := limiter.allow("5.6.7.8", now); !allowed {
		t.Fatalf("other ip should be allowed")
	}

	// The window slides.
	if allowed, _ := limiter.allow("1.2.3.4", now.Add(2*time.Minute)); !allowed {
		t.Fatalf("hit after window should be allowed")
	}
}

func TestLoginRateLimiter_Middleware(t *testing.T) {
	t.Parallel()

	limiter := NewLoginRateLimiter(1, time.Minute)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := limiter.Middleware(next)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: got %d want %d", first.Code, http.StatusOK)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d want %d", second.Code, http.StatusTooManyRequests)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

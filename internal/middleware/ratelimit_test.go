package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1.0 / 60.0),
		GeneralBurst:    3,
		IssueRate:       rate.Limit(1.0 / 60.0),
		IssueBurst:      1,
		CleanupInterval: time.Hour,
	}
}

func TestGeneralMiddleware_AllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Result().StatusCode)
		}
	}
}

func TestGeneralMiddleware_RejectsOverBurstWith429(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.RemoteAddr = "203.0.113.8:51234"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	resp := last.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("429 body should be JSON: %v", err)
	}
	if body["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestIssueMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	general := rl.GeneralMiddleware()(ok)
	issue := rl.IssueMiddleware()(ok)

	// 発行側のバースト(1)を使い切る
	req := httptest.NewRequest(http.MethodGet, "/api/claim-sig", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	w := httptest.NewRecorder()
	issue.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first issue request should pass, got %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	issue.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second issue request should be limited, got %d", w.Result().StatusCode)
	}

	// 同一クライアントでもAPI全般側は引き続き通る
	req2 := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req2.RemoteAddr = "203.0.113.9:51234"
	w = httptest.NewRecorder()
	general.ServeHTTP(w, req2)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general limiter should be independent, got %d", w.Result().StatusCode)
	}
}

func TestRateLimiter_SeparateClientsSeparateBudgets(t *testing.T) {
	rl := NewRateLimiter(testLimiterConfig())
	defer rl.Stop()

	handler := rl.IssueMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reqA := httptest.NewRequest(http.MethodGet, "/api/claim-sig", nil)
	reqA.RemoteAddr = "203.0.113.10:1000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, reqA)
	handler.ServeHTTP(httptest.NewRecorder(), reqA)

	// 別IPは独立したバジェットを持つ
	reqB := httptest.NewRequest(http.MethodGet, "/api/claim-sig", nil)
	reqB.RemoteAddr = "203.0.113.11:1000"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, reqB)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("a different client should not be limited, got %d", w.Result().StatusCode)
	}

	if rl.IssueLimiterCount() != 2 {
		t.Errorf("IssueLimiterCount() = %d, want 2", rl.IssueLimiterCount())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr", "203.0.113.1:9999", "", "203.0.113.1"},
		{"forwarded single", "10.0.0.1:9999", "198.51.100.7", "198.51.100.7"},
		{"forwarded chain uses first", "10.0.0.1:9999", "198.51.100.7, 10.0.0.2", "198.51.100.7"},
		{"malformed remote addr passthrough", "not-an-addr", "", "not-an-addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	config := testLimiterConfig()
	config.CleanupInterval = time.Nanosecond
	rl := NewRateLimiter(config)
	defer rl.Stop()

	rl.getOrCreateGeneralLimiter("203.0.113.20")
	rl.generalMu.Lock()
	rl.generalLimiters["203.0.113.20"].lastAccess = time.Now().Add(-time.Hour)
	rl.generalMu.Unlock()

	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("stale entry should be removed, count = %d", rl.GeneralLimiterCount())
	}
}

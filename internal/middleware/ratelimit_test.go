package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelmint/backend/internal/cache"
	"github.com/modelmint/backend/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func limitedRouter(store cache.Store, cfg config.EndpointConfig) *gin.Engine {
	router := gin.New()
	router.GET("/test",
		func(c *gin.Context) { c.Set(ContextUserID, uint(1)) },
		EndpointLimit(store, "test", cfg),
		func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) },
	)
	return router
}

func doRequest(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	router.ServeHTTP(w, req)
	return w
}

func TestEndpointLimit_AllowsWithinBudget(t *testing.T) {
	router := limitedRouter(cache.NewMemoryStore(), config.EndpointConfig{RateLimit: 3, RateWindow: time.Minute})

	for i := 0; i < 3; i++ {
		if w := doRequest(router); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, expected 200", i+1, w.Code)
		}
	}
}

func TestEndpointLimit_BlocksOverBudget(t *testing.T) {
	router := limitedRouter(cache.NewMemoryStore(), config.EndpointConfig{RateLimit: 2, RateWindow: time.Minute})

	doRequest(router)
	doRequest(router)

	w := doRequest(router)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, expected 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("throttled response should carry a Retry-After header")
	}
}

func TestEndpointLimit_WindowResets(t *testing.T) {
	router := limitedRouter(cache.NewMemoryStore(), config.EndpointConfig{RateLimit: 1, RateWindow: 40 * time.Millisecond})

	doRequest(router)
	if w := doRequest(router); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be throttled, got %d", w.Code)
	}

	time.Sleep(60 * time.Millisecond)
	if w := doRequest(router); w.Code != http.StatusOK {
		t.Errorf("request in the next window should pass, got %d", w.Code)
	}
}

func TestEndpointLimit_PerUserBudgets(t *testing.T) {
	store := cache.NewMemoryStore()
	cfg := config.EndpointConfig{RateLimit: 1, RateWindow: time.Minute}

	router := gin.New()
	router.GET("/test/:uid",
		func(c *gin.Context) {
			if c.Param("uid") == "1" {
				c.Set(ContextUserID, uint(1))
			} else {
				c.Set(ContextUserID, uint(2))
			}
		},
		EndpointLimit(store, "test", cfg),
		func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) },
	)

	hit := func(uid string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test/"+uid, nil)
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := hit("1"); code != http.StatusOK {
		t.Fatalf("user 1 first request: %d", code)
	}
	if code := hit("1"); code != http.StatusTooManyRequests {
		t.Fatalf("user 1 second request should be throttled, got %d", code)
	}
	if code := hit("2"); code != http.StatusOK {
		t.Errorf("user 2 should have an independent budget, got %d", code)
	}
}

func TestIPRateLimiter_BlocksExcessiveRequests(t *testing.T) {
	rl := NewIPRateLimiter(1, 2)

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	var lastCode int
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		router.ServeHTTP(w, req)
		lastCode = w.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("expected status %d after burst exceeded, got %d", http.StatusTooManyRequests, lastCode)
	}
}

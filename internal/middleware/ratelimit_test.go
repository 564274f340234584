package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rhesis-ai/rhesis/internal/middleware"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimitedRouter(t *testing.T, handlers ...gin.HandlerFunc) *gin.Engine {
	t.Helper()

	r := gin.New()
	r.Use(handlers...)
	r.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	return r
}

func hit(r http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.RemoteAddr = remoteAddr
	r.ServeHTTP(w, req)

	return w
}

func TestRateLimiter_BlocksBeyondBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newLimitedRouter(t, middleware.NewRateLimiter(ctx, 1, 2).Handler())

	for i := range 3 {
		w := hit(r, "1.2.3.4:1234")

		if i < 2 && w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if i == 2 {
			if w.Code != http.StatusTooManyRequests {
				t.Fatalf("request %d: expected 429, got %d", i, w.Code)
			}
			if w.Header().Get("Retry-After") == "" {
				t.Error("missing Retry-After")
			}
		}
	}
}

func TestRateLimiter_IndependentClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newLimitedRouter(t, middleware.NewRateLimiter(ctx, 1, 1).Handler())

	hit(r, "1.1.1.1:1000")
	if w := hit(r, "2.2.2.2:1000"); w.Code != http.StatusOK {
		t.Fatalf("different IP should not be rate limited, got %d", w.Code)
	}
}

// withIdentity stands in for Require.
func withIdentity(org string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, _ := tenant.WithIdentity(c.Request.Context(), tenant.Identity{OrganizationID: org, UserID: "u"})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestRateLimiter_PerOrganization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := middleware.NewRateLimiter(ctx, 1, 1)
	orgA := newLimitedRouter(t, withIdentity("org-a"), rl.PerOrganization())
	orgB := newLimitedRouter(t, withIdentity("org-b"), rl.PerOrganization())

	if w := hit(orgA, "1.1.1.1:1000"); w.Code != http.StatusOK {
		t.Fatalf("first org-a request: got %d", w.Code)
	}
	// Same organization from another address shares the bucket.
	if w := hit(orgA, "9.9.9.9:1000"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second org-a request: got %d", w.Code)
	}
	if w := hit(orgB, "1.1.1.1:1000"); w.Code != http.StatusOK {
		t.Fatalf("org-b limited by org-a traffic: got %d", w.Code)
	}

	anonymous := newLimitedRouter(t, rl.PerOrganization())
	for range 3 {
		if w := hit(anonymous, "1.1.1.1:1000"); w.Code != http.StatusOK {
			t.Fatalf("request without identity limited: got %d", w.Code)
		}
	}
}

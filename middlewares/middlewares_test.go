package middlewares_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"rentgidi-chat/middlewares"
	"rentgidi-chat/utils"
)

func newEngine(t *testing.T, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middlewares.RequestLogger(zaptest.NewLogger(t)))
	r.Use(mw...)
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(middlewares.ContextUserID))
	})
	return r
}

func TestTokenAuthMiddleware(t *testing.T) {
	tokens := utils.NewJWT([]byte("secret"), time.Hour)
	r := newEngine(t, middlewares.TokenAuthMiddleware(tokens))
	good, _ := tokens.Issue("t1", "tenant")
	forged, _ := utils.NewJWT([]byte("nope"), time.Hour).Issue("t1", "tenant")

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"forged", "Bearer " + forged, http.StatusUnauthorized, ""},
		{"valid", "Bearer " + good, http.StatusOK, "t1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if tc.body != "" && w.Body.String() != tc.body {
				t.Fatalf("body = %q, want %q", w.Body.String(), tc.body)
			}
		})
	}
}

func TestRateLimitMiddlewareIsPerCaller(t *testing.T) {
	setUser := func(c *gin.Context) {
		c.Set(middlewares.ContextUserID, c.GetHeader("X-User"))
	}
	r := newEngine(t, setUser, middlewares.RateLimitMiddleware(1))

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// 突发容量为 2
	for i := 0; i < 2; i++ {
		if code := do("t1"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := do("t1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := do("l1"); code != http.StatusOK {
		t.Fatalf("other callers should not be limited, got %d", code)
	}
}

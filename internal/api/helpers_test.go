package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/api"
	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/middleware"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const (
	testOrgID   = "00000000-0000-0000-0000-0000000000a1"
	testUserID  = "00000000-0000-0000-0000-0000000000b1"
	testTokenID = "00000000-0000-0000-0000-0000000000c1"
	testToken   = "valid-token"
)

var testIdentity = tenant.Identity{OrganizationID: testOrgID, UserID: testUserID}

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	return l
}

// newTestRouter builds the full router with a token authenticator that
// knows testToken and a real cookie session store. deps fills in services.
func newTestRouter(t *testing.T, deps api.RouterDeps) http.Handler {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := testLogger()
	tokens := fakeTokens{testToken: {Identity: testIdentity, Method: auth.MethodToken, TokenID: testTokenID}}
	sessions := auth.NewSessionManager("session-secret-for-tests", false, time.Hour)

	deps.Log = log
	deps.Tokens = tokens
	deps.Sessions = sessions
	deps.Auth = middleware.NewAuthenticator(tokens, sessions, log, nil)
	deps.Version = "test"
	if deps.CORSOrigins == nil {
		deps.CORSOrigins = []string{"http://localhost:3000"}
	}

	h, err := api.NewRouter(ctx, &deps)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	return h
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookies(cookies []*http.Cookie) requestOption {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

// doRequest performs an HTTP request against the router and returns the recorder.
func doRequest(h http.Handler, method, path, body string, opts ...requestOption) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}

	for _, opt := range opts {
		opt(req)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

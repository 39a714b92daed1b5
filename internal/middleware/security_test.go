// Package middleware - tests for the pre-authentication gates.
package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openfacil/facilityhub/internal/security"
	"github.com/openfacil/facilityhub/internal/sessions"
)

func newTestSuite(t *testing.T) (*SecurityMiddleware, *observer.ObservedLogs) {
	t.Helper()

	config := security.DefaultSecurityConfig()
	config.SessionSecure = false

	limiter, err := security.OpenLimiter(filepath.Join(t.TempDir(), "ratelimit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	logger := security.NewLoggerWithCore(core)
	manager := sessions.NewManager(sessions.NewStore(config), config, logger)

	return NewSecurityMiddleware(logger, config, limiter, manager), logs
}

func TestRequestFilter_BlocksToolUserAgent(t *testing.T) {
	sm, logs := newTestSuite(t)

	app := fiber.New()
	app.Use(sm.RequestFilter())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("User-Agent", "sqlmap/1.8")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Request rejected", string(body), "the reason stays out of the response")
	assert.Len(t, logs.FilterMessage(string(security.EventRequestBlocked)).All(), 1)
}

func TestRequestFilter_BlocksInjectionInBody(t *testing.T) {
	sm, _ := newTestSuite(t)

	app := fiber.New()
	app.Use(sm.RequestFilter())
	app.Post("/incidents", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("POST", "/incidents", strings.NewReader("description=<script>alert(1)</script>"))
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRequestFilter_PassesNormalTraffic(t *testing.T) {
	sm, _ := newTestSuite(t)

	app := fiber.New()
	app.Use(sm.RequestFilter())
	app.Get("/staff/dashboard", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/staff/dashboard?room=B2", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/130.0")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRateLimit_RejectsWithRetryAfter(t *testing.T) {
	sm, logs := newTestSuite(t)

	app := fiber.New()
	app.Post("/login", sm.RateLimit("login", 2), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	var last *http.Response
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/login", nil)
		req.Header.Set("User-Agent", "Mozilla/5.0")
		resp, err := app.Test(req)
		require.NoError(t, err)
		if last != nil {
			last.Body.Close()
		}
		last = resp
	}
	defer last.Body.Close()

	assert.Equal(t, fiber.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get(fiber.HeaderRetryAfter))
	assert.Len(t, logs.FilterMessage(string(security.EventRateLimitExceeded)).All(), 1)
}

func TestRateLimit_WarnsNearLimit(t *testing.T) {
	sm, logs := newTestSuite(t)

	app := fiber.New()
	app.Get("/", sm.RateLimit("general", 5), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	for i := 0; i < 4; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d stays allowed", i+1)
	}

	assert.Len(t, logs.FilterMessage(string(security.EventRateLimitWarning)).All(), 1,
		"the 4th of 5 crosses the warning threshold exactly once")
}

func TestRateLimit_StoreFailureFailsClosed(t *testing.T) {
	sm, _ := newTestSuite(t)

	app := fiber.New()
	app.Get("/", sm.RateLimit("general", 5), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	// A limiter whose store is gone cannot answer; the request must not pass.
	require.NoError(t, sm.limiter.Close())

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestSecureHeaders(t *testing.T) {
	sm, _ := newTestSuite(t)

	app := fiber.New()
	app.Use(sm.SecureHeaders())
	app.Get("/", func(c *fiber.Ctx) error {
		nonce, _ := c.Locals("csp_nonce").(string)
		return c.SendString(nonce)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get(fiber.HeaderXContentTypeOptions))
	assert.Equal(t, "DENY", resp.Header.Get(fiber.HeaderXFrameOptions))
	assert.Equal(t, "strict-origin-when-cross-origin", resp.Header.Get(fiber.HeaderReferrerPolicy))
	assert.NotEmpty(t, resp.Header.Get("Permissions-Policy"))
	assert.Empty(t, resp.Header.Get(fiber.HeaderStrictTransportSecurity), "no HSTS over plain HTTP")

	nonce, _ := io.ReadAll(resp.Body)
	require.NotEmpty(t, nonce)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentSecurityPolicy), "'nonce-"+string(nonce)+"'")
}

func TestCSRFProtection_FullCycle(t *testing.T) {
	sm, logs := newTestSuite(t)

	app := fiber.New()
	app.Get("/form", sm.SetCSRFToken(), func(c *fiber.Ctx) error {
		token, _ := c.Locals("csrf_token").(string)
		return c.SendString(token)
	})
	app.Post("/form", sm.CSRFProtection(), func(c *fiber.Ctx) error {
		return c.SendString("submitted")
	})

	// Fetch the form: the token is issued against the session.
	getResp, err := app.Test(httptest.NewRequest("GET", "/form", nil))
	require.NoError(t, err)
	defer getResp.Body.Close()
	tokenBytes, _ := io.ReadAll(getResp.Body)
	token := string(tokenBytes)
	require.NotEmpty(t, token)
	require.NotEmpty(t, getResp.Cookies())
	sessionCookie := getResp.Cookies()[0]

	// The vault keys tokens by path, so the GET issue covers the POST.
	post := httptest.NewRequest("POST", "/form", nil)
	post.Header.Set("X-CSRF-Token", token)
	post.AddCookie(sessionCookie)
	postResp, err := app.Test(post)
	require.NoError(t, err)
	defer postResp.Body.Close()
	assert.Equal(t, fiber.StatusOK, postResp.StatusCode)

	// Replaying the same token fails: single use.
	replay := httptest.NewRequest("POST", "/form", nil)
	replay.Header.Set("X-CSRF-Token", token)
	replay.AddCookie(sessionCookie)
	replayResp, err := app.Test(replay)
	require.NoError(t, err)
	defer replayResp.Body.Close()
	assert.Equal(t, fiber.StatusForbidden, replayResp.StatusCode)

	assert.Len(t, logs.FilterMessage(string(security.EventCSRFViolation)).All(), 1)
}

func TestCSRFProtection_MissingToken(t *testing.T) {
	sm, _ := newTestSuite(t)

	app := fiber.New()
	app.Post("/form", sm.CSRFProtection(), func(c *fiber.Ctx) error {
		return c.SendString("submitted")
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/form", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestCSRFProtection_IgnoresSafeMethods(t *testing.T) {
	sm, _ := newTestSuite(t)

	app := fiber.New()
	app.Get("/form", sm.CSRFProtection(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/form", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequestLogger_RecordsRequestsAndForbidden(t *testing.T) {
	sm, logs := newTestSuite(t)

	app := fiber.New()
	app.Use(sm.RequestLogger())
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/denied", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusForbidden).SendString("Access denied")
	})

	for _, path := range []string{"/ok", "/denied"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		resp.Body.Close()
	}

	assert.Len(t, logs.FilterMessage("http_request").All(), 2)
	assert.Len(t, logs.FilterMessage(string(security.EventUnauthorizedAccess)).All(), 1,
		"only the 403 raises an unauthorized-access event")
}

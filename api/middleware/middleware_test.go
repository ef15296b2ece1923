package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/settlr/settlr/config"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitDisabledWhenUnconfigured(t *testing.T) {
	router := newRouter(RateLimitMiddleware(&config.Configuration{}))

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, get(router, nil).Code)
	}
}

func TestRateLimitEnforcesBurst(t *testing.T) {
	rps := 1.0
	burst := 1
	cleanup := 60
	conf := &config.Configuration{
		RateLimit: config.RateLimitConfig{
			RequestsPerSecond:  &rps,
			Burst:              &burst,
			CleanupIntervalSec: &cleanup,
		},
	}
	router := newRouter(RateLimitMiddleware(conf))

	assert.Equal(t, http.StatusOK, get(router, nil).Code)

	limited := false
	for i := 0; i < 5; i++ {
		if get(router, nil).Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestSecretKeyAuth(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: "hush"},
	})
	router := newRouter(SecretKeyAuthMiddleware())

	assert.Equal(t, http.StatusUnauthorized, get(router, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, map[string]string{KeyHeader: "wrong"}).Code)
	assert.Equal(t, http.StatusOK, get(router, map[string]string{KeyHeader: "hush"}).Code)
}

func TestSecretKeyAuthUnconfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	router := newRouter(SecretKeyAuthMiddleware())

	assert.Equal(t, http.StatusInternalServerError, get(router, map[string]string{KeyHeader: "hush"}).Code)
}

package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(r *gin.Engine, path string, header ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCache(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/api/units", func(c *gin.Context) {
		calls++
		c.Header("Content-Type", "application/json")
		c.String(http.StatusOK, `{"calls":%d}`, calls)
	})
	r.GET("/api/broken", func(c *gin.Context) {
		calls++
		c.String(http.StatusInternalServerError, "boom")
	})

	first := get(r, "/api/units")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, `{"calls":1}`, first.Body.String())

	second := get(r, "/api/units")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, `{"calls":1}`, second.Body.String())

	bypass := get(r, "/api/units", "Cache-Control", "no-cache")
	assert.Equal(t, `{"calls":2}`, bypass.Body.String())

	get(r, "/api/broken")
	get(r, "/api/broken")
	assert.Equal(t, 4, calls, "error responses are not cached")
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(0.5), 2))
	r.GET("/api/units", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r, "/api/units").Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/units").Code)

	limited := get(r, "/api/units")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "2", limited.Header().Get("Retry-After"))
}

func TestIPRateLimiter_PerIP(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1)

	assert.True(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.False(t, limiter.GetLimiter("10.0.0.1").Allow())
	assert.True(t, limiter.GetLimiter("10.0.0.2").Allow())
}

func TestCache_KeysOnURL(t *testing.T) {
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/api/:name", func(c *gin.Context) {
		c.String(http.StatusOK, "%s?%s", c.Param("name"), c.Query("unit"))
	})

	// Requests built for a client carry no RequestURI.
	serve := func(path string) string {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Body.String()
	}

	assert.Equal(t, "units?", serve("/api/units"))
	assert.Equal(t, "actions?", serve("/api/actions"))
	assert.Equal(t, "actions?loft", serve("/api/actions?unit=loft"))
	assert.Equal(t, "actions?", serve("/api/actions"))
}

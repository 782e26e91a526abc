package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/authgate/internal/config"
	apperrors "github.com/spec-kit/authgate/pkg/util/errorutil"
)

func newClassApp(t *testing.T, clock *fakeClock, classes ...string) *fiber.App {
	t.Helper()
	cfg := config.RateLimitConfig{
		Tiers: []config.RateTier{
			{Name: "per-minute", Capacity: 3, Period: time.Minute},
			{Name: "ai-daily", Capacity: 2, Period: 24 * time.Hour},
		},
		Classes: map[string][]string{
			"default": {"per-minute"},
			"ai":      {"ai-daily"},
		},
	}
	rc, err := NewClasses(newMemoryLimiter(t, clock), cfg)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			if de.RetryAfter > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(apperrors.RetryAfterSeconds(de.RetryAfter)))
			}
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	app.Get("/", rc.Require(classes...), func(c *fiber.Ctx) error {
		d := DecisionsFromContext(c)["ai"]
		return c.SendString(strconv.Itoa(d.Remaining))
	})
	return app
}

func get(t *testing.T, app *fiber.App) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return resp
}

func TestClasses_SetsHeadersAndDenies(t *testing.T) {
	clock := newFakeClock()
	app := newClassApp(t, clock, "default")

	for want := 2; want >= 0; want-- {
		resp := get(t, app)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, strconv.Itoa(want), resp.Header.Get(HeaderRemaining))
		assert.NotEmpty(t, resp.Header.Get(HeaderReset))
	}

	resp := get(t, app)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "20", resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestClasses_ChainedClassesRecordDecisions(t *testing.T) {
	clock := newFakeClock()
	app := newClassApp(t, clock, "default", "ai")

	resp := get(t, app)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get(HeaderRemaining))

	get(t, app)
	resp = get(t, app)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestNewClasses_UnknownTier(t *testing.T) {
	_, err := NewClasses(nil, config.RateLimitConfig{
		Classes: map[string][]string{"default": {"missing"}},
	})
	assert.Error(t, err)
}

func TestClasses_UnknownClassPanics(t *testing.T) {
	rc, err := NewClasses(nil, config.RateLimitConfig{})
	require.NoError(t, err)
	assert.Panics(t, func() { rc.Require("nope") })
}

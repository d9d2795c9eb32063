package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/totegamma/sharedbag/internal/present/rest/presenter"
)

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	ExpiresIn         time.Duration
}

// RateLimit limits requests per caller IP with a token bucket.
func RateLimit(config RateLimitConfig) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(config.RequestsPerMinute) / 60),
		Burst:     config.Burst,
		ExpiresIn: config.ExpiresIn,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return presenter.Status(c, http.StatusForbidden, "Unable to identify caller")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return presenter.Status(c, http.StatusTooManyRequests, "Too many requests")
		},
	})
}

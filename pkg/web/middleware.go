package web

import (
	"errors"
	"strconv"
	"time"

	"github.com/dukex/flowline/pkg/metrics"
	"github.com/gofiber/fiber/v3"
)

// Metrics records request counts and latency per route pattern.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()

		if err != nil {
			status = fiber.StatusInternalServerError

			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
		}

		route := c.Route().Path
		method := c.Method()

		metrics.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())

		return err
	}
}

package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulseboard/internal/analytics"
)

const errReportFailed = "Failed to generate analytics report"

// AnalyticsReportAction returns the report for ?siteId=...&days=N. days
// defaults to defaultDays.
func AnalyticsReportAction(aggregator *analytics.Aggregator, defaultDays int) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		siteID := strings.TrimSpace(ctx.Query("siteId"))
		if siteID == "" {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": analytics.ErrMissingSite.Error(),
			})
		}

		days := defaultDays
		if raw := strings.TrimSpace(ctx.Query("days")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": "days must be a whole number",
				})
			}
			days = parsed
		}

		report, err := aggregator.Report(ctx.UserContext(), siteID, days)
		switch {
		case errors.Is(err, analytics.ErrInvalidWindow), errors.Is(err, analytics.ErrMissingSite):
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case err != nil:
			ctx.Logger.Error("Analytics report failed",
				slog.String("site_id", siteID),
				slog.Int("days", days),
				slog.String("query", analytics.QueryName(err)),
				slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": errReportFailed,
			})
		}

		return ctx.JSON(report)
	}
}

package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulseboard/internal/tracking"
)

const (
	errInvalidRequest = "Invalid request body"
	errCollectFailed  = "Failed to record hit"
)

// TrackHandler accepts page views and custom events from the tracking snippet.
// The body is parsed regardless of Content-Type because navigator.sendBeacon
// posts text/plain.
func TrackHandler(collector *tracking.Collector) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var req tracking.TrackRequest
		if err := json.Unmarshal(ctx.Body(), &req); err != nil {
			ctx.Logger.Debug("Failed to parse track request", slog.Any("error", err))
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": errInvalidRequest,
			})
		}

		if req.UserAgent == "" {
			req.UserAgent = ctx.Get("User-Agent")
			if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
				req.UserAgent = forwardedUA
			}
		}

		hit, err := tracking.ParseHit(&req, collector.Now())
		if err != nil {
			return validationResponse(ctx, err)
		}

		outcome, err := collector.Collect(ctx.UserContext(), hit, getClientIP(ctx.Ctx))
		if err != nil {
			var verr *tracking.ValidationError
			if errors.As(err, &verr) {
				return validationResponse(ctx, err)
			}
			if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
				ctx.Logger.Warn("Database busy, rejecting hit", slog.String("site_id", hit.Base().SiteID))
				return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
					"error": errCollectFailed,
				})
			}
			ctx.Logger.Error("Failed to record hit",
				slog.String("site_id", hit.Base().SiteID),
				slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": errCollectFailed,
			})
		}

		ctx.Logger.Debug("Hit processed",
			slog.String("site_id", hit.Base().SiteID),
			slog.String("kind", string(hit.Kind())),
			slog.String("outcome", string(outcome)))

		return ctx.JSON(fiber.Map{"success": true})
	}
}

func validationResponse(ctx *cartridge.Context, err error) error {
	ctx.Logger.Debug("Rejected track request", slog.Any("error", err))
	return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

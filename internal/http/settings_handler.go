package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulseboard/internal/settings"
)

// ExcludedIPsPayload is the body of the excluded IPs endpoints.
type ExcludedIPsPayload struct {
	ExcludedIPs []string `json:"excludedIps"`
}

// ExcludedIPsIndexAction returns the stored exclusion list.
func ExcludedIPsIndexAction(exclusions *settings.ExclusionList) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		entries, err := exclusions.ExcludedIPs()
		if err != nil {
			ctx.Logger.Error("Failed to load excluded IPs", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load excluded IPs",
			})
		}
		if entries == nil {
			entries = []string{}
		}
		return ctx.JSON(ExcludedIPsPayload{ExcludedIPs: entries})
	}
}

// ExcludedIPsUpdateAction replaces the exclusion list. Entries are addresses
// or CIDR ranges; an empty list stops excluding anything.
func ExcludedIPsUpdateAction(exclusions *settings.ExclusionList) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var payload ExcludedIPsPayload
		if err := ctx.BodyParser(&payload); err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		entries := make([]string, 0, len(payload.ExcludedIPs))
		for _, entry := range payload.ExcludedIPs {
			if entry = strings.TrimSpace(entry); entry != "" {
				entries = append(entries, entry)
			}
		}

		if err := exclusions.SetExcludedIPs(entries); err != nil {
			if errors.Is(err, settings.ErrInvalidEntry) {
				ctx.Logger.Warn("Invalid excluded IP submitted", slog.Any("error", err))
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
			ctx.Logger.Error("Failed to update excluded IPs", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update excluded IPs",
			})
		}

		ctx.Logger.Info("Excluded IPs updated", slog.Int("entries", len(entries)))
		return ctx.JSON(ExcludedIPsPayload{ExcludedIPs: entries})
	}
}

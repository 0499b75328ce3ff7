package v1

import (
	"bytes"
	_ "embed"
	"log/slog"
	"strings"
	"text/template"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pulseboard/internal/config"
)

//go:embed tracker.js
var trackerSource string

var trackerTemplate = template.Must(template.New("tracker.js").Parse(trackerSource))

// trackerBaseURL prefers the configured public URL; the request origin comes
// from the Host header and is JS-escaped before it reaches the script.
func trackerBaseURL(ctx *cartridge.Context) string {
	base := strings.TrimRight(config.GetConfig().PublicURL, "/")
	if base == "" {
		base = ctx.BaseURL()
	}
	return template.JSEscapeString(base)
}

// GetTrackerAction serves the embeddable tracking script, pointed at this server.
func GetTrackerAction(ctx *cartridge.Context) error {
	var buf bytes.Buffer
	data := map[string]string{
		"BaseURL": trackerBaseURL(ctx),
	}
	if err := trackerTemplate.Execute(&buf, data); err != nil {
		ctx.Logger.Error("Failed to render tracker script", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}

	content := buf.Bytes()
	etag := generateETag(content)

	if ctx.Get("If-None-Match") == etag {
		return ctx.Status(fiber.StatusNotModified).Send(nil)
	}

	ctx.Set("Content-Type", "application/javascript")
	ctx.Set("Cache-Control", "public, max-age=3600")
	ctx.Set("ETag", etag)
	ctx.Set("Cross-Origin-Resource-Policy", "cross-origin")
	return ctx.Send(content)
}

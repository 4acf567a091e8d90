package v1

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"studiometrics/internal/aggregation"
)

// AggregateParams is the dashboard-facing request shape.
type AggregateParams struct {
	MetricType string `json:"metric_type"`
	DateRange  string `json:"date_range"`
}

// AggregateHandler serves one normalized report per request. The service
// masks external failures internally; only a fundamentally unservable
// request produces a non-200.
func AggregateHandler(service *aggregation.Service) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params AggregateParams
		if err := ctx.Ctx.BodyParser(&params); err != nil {
			ctx.Logger.Debug("Failed to parse aggregation request", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Invalid aggregation request",
			})
		}

		payload, err := service.Aggregate(ctx.Ctx.Context(), params.MetricType, params.DateRange)
		if err != nil {
			ctx.Logger.Error("Aggregation failed",
				slog.Any("error", err),
				slog.String("metric_type", params.MetricType),
				slog.String("date_range", params.DateRange))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to aggregate metrics",
			})
		}

		// Send the payload verbatim so cached responses stay byte-identical.
		ctx.Ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return ctx.Ctx.Status(http.StatusOK).Send(payload)
	}
}

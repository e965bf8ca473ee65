// handlers/webhook.go
package handlers

import (
	"errors"

	"coalition-score-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Webhook intake headers. All three are required; a delivery missing any of
// them is a client error and is rejected before persistence.
const (
	HeaderDelivery = "X-Delivery"
	HeaderModel    = "X-Model"
	HeaderEvent    = "X-Event"
)

// SetupWebhookRoutes registers the inbound intake endpoint. Once an event is
// durably recorded the endpoint always answers 200 with the handled status —
// a transport failure would only trigger platform redelivery, and the
// delivery-id idempotency key is what prevents double-processing, not the
// response code.
func SetupWebhookRoutes(app *fiber.App, intake *services.IntakeService, log *logrus.Logger) {
	app.Post("/webhooks", func(c *fiber.Ctx) error {
		env := services.Envelope{
			DeliveryID: c.Get(HeaderDelivery),
			ModelKind:  c.Get(HeaderModel),
			EventKind:  c.Get(HeaderEvent),
			Body:       c.Body(),
		}

		status, err := intake.Ingest(c.Context(), env)
		if err != nil {
			if errors.Is(err, services.ErrBadEnvelope) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "missing delivery headers or body",
				})
			}
			log.Errorf("❌ Failed to record webhook delivery: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to record delivery",
			})
		}

		return c.JSON(fiber.Map{"status": status})
	})
}

// handlers/internal.go
package handlers

import (
	"errors"
	"strconv"
	"time"

	"coalition-score-engine/middleware"
	"coalition-score-engine/models"
	"coalition-score-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// InternalDeps bundles the services behind the internal trigger endpoints.
type InternalDeps struct {
	Intake  *services.IntakeService
	Catchup *services.CatchupService
	Ranking *services.RankingService
	Season  *services.SeasonService
	Recon   *services.Reconciler
	Token   string
	Log     *logrus.Logger
}

// SetupInternalRoutes registers the endpoints the admin dashboard consumes:
// replaying stored webhooks, handling single objects, catch-up control, and
// diagnostic views. All are behind the service token.
func SetupInternalRoutes(app *fiber.App, deps InternalDeps) {
	internal := app.Group("/internal", middleware.ServiceTokenMiddleware(deps.Token, deps.Log))

	internal.Post("/webhooks/:delivery_id/replay", func(c *fiber.Ctx) error {
		status, err := deps.Intake.Replay(c.Context(), c.Params("delivery_id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown delivery id"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": status})
	})

	internal.Post("/objects/:kind/:id/handle", func(c *fiber.Ctx) error {
		objectID, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid object id"})
		}
		status, err := deps.Catchup.HandleObject(c.Context(), models.ModelKind(c.Params("kind")), objectID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": status})
	})

	internal.Post("/catchup", func(c *fiber.Ctx) error {
		var req struct {
			BeginAt time.Time `json:"begin_at"`
			EndAt   time.Time `json:"end_at"`
			Kinds   []string  `json:"kinds"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.EndAt.IsZero() {
			req.EndAt = time.Now().UTC()
		}

		kinds := make([]models.ModelKind, len(req.Kinds))
		for i, k := range req.Kinds {
			kinds[i] = models.ModelKind(k)
		}
		job, err := deps.Catchup.Start(req.BeginAt, req.EndAt, kinds)
		if err != nil {
			if errors.Is(err, services.ErrCatchupRunning) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusAccepted).JSON(job)
	})

	internal.Get("/catchup/:id", func(c *fiber.Ctx) error {
		job, err := deps.Catchup.Status(c.Params("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown job id"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(job)
	})

	internal.Get("/rankings/:key", func(c *fiber.Ctx) error {
		entries, err := deps.Ranking.Leaderboard(c.Context(), c.Params("key"), time.Now().UTC())
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown ranking key"})
			}
			if errors.Is(err, services.ErrNoCurrentSeason) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"entries": entries})
	})

	internal.Get("/coalitions/:id/stats", func(c *fiber.Ctx) error {
		coalitionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coalition id"})
		}
		now := time.Now().UTC()
		season, err := deps.Season.Current(c.Context(), now)
		if err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		stats, err := deps.Ranking.CoalitionStats(c.Context(), coalitionID, season, now)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(stats)
	})

	internal.Post("/coalitions/:id/rebalance", func(c *fiber.Ctx) error {
		coalitionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coalition id"})
		}
		if err := deps.Recon.RebalanceCoalition(c.Context(), coalitionID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

// services/intake.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coalition-score-engine/config"
	"coalition-score-engine/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrBadEnvelope marks an inbound delivery missing its model kind, event
// kind, delivery id, or body. These are rejected before persistence and
// never retried.
var ErrBadEnvelope = errors.New("incomplete webhook envelope")

// Envelope is one inbound webhook delivery as received over HTTP.
type Envelope struct {
	DeliveryID string
	ModelKind  string
	EventKind  string
	Body       []byte
}

// IntakeService is the idempotency ledger in front of the scoring pipeline.
// Each delivery is persisted under its unique delivery id before any handler
// runs, so concurrent duplicates observe the row and short-circuit.
type IntakeService struct {
	DB     *gorm.DB
	Log    *logrus.Logger
	Cfg    *config.Config
	Ledger *LedgerService
	Users  *UserDirectory
	Recon  *Reconciler
}

func NewIntakeService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, ledger *LedgerService, users *UserDirectory, recon *Reconciler) *IntakeService {
	return &IntakeService{DB: db, Log: logger, Cfg: cfg, Ledger: ledger, Users: users, Recon: recon}
}

// Ingest records and processes one delivery. The insert happens first; a
// unique violation on the delivery id means another ingestion already owns
// this delivery and the caller gets StatusAlreadyHandled. Handler failures
// never bubble into a transport failure: the persisted status carries the
// outcome, and the intake endpoint acknowledges once the event is durable.
func (s *IntakeService) Ingest(ctx context.Context, env Envelope) (models.HandledStatus, error) {
	if env.DeliveryID == "" || env.ModelKind == "" || env.EventKind == "" || len(env.Body) == 0 {
		return "", ErrBadEnvelope
	}

	ev := &models.WebhookEvent{
		ID:         uuid.NewString(),
		DeliveryID: env.DeliveryID,
		ModelKind:  env.ModelKind,
		EventKind:  env.EventKind,
		RawBody:    env.Body,
		ReceivedAt: time.Now().UTC(),
		Status:     models.StatusUnhandled,
	}
	if err := s.DB.WithContext(ctx).Create(ev).Error; err != nil {
		if isUniqueViolation(err) {
			// The existing row may still be mid-flight in another process;
			// the loser of the insert race must never reprocess. Rows left
			// unhandled by a crash are re-run through Replay.
			s.Log.Infof("🔁 Duplicate delivery %s, short-circuiting", env.DeliveryID)
			return models.StatusAlreadyHandled, nil
		}
		return "", err
	}

	return s.process(ctx, ev), nil
}

// Replay re-runs a stored delivery by id. Handlers are delta-idempotent, so
// replaying an already-processed event converges to the same ledger state
// instead of double-awarding.
func (s *IntakeService) Replay(ctx context.Context, deliveryID string) (models.HandledStatus, error) {
	var ev models.WebhookEvent
	if err := s.DB.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&ev).Error; err != nil {
		return "", err
	}
	s.Log.Infof("🔂 Replaying delivery %s (previous status: %s)", deliveryID, ev.Status)
	return s.process(ctx, &ev), nil
}

func (s *IntakeService) process(ctx context.Context, ev *models.WebhookEvent) models.HandledStatus {
	status, err := s.dispatch(ctx, ev)
	if err != nil {
		s.Log.Errorf("❌ Handler failed for delivery %s (%s/%s): %v", ev.DeliveryID, ev.ModelKind, ev.EventKind, err)
		status = models.StatusError
	}

	now := time.Now().UTC()
	if err := s.DB.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", ev.ID).
		Updates(map[string]any{"status": status, "handled_at": now}).Error; err != nil {
		s.Log.Errorf("❌ Failed to record status for delivery %s: %v", ev.DeliveryID, err)
	}
	ev.Status = status
	ev.HandledAt = &now
	return status
}

func (s *IntakeService) dispatch(ctx context.Context, ev *models.WebhookEvent) (models.HandledStatus, error) {
	payload, err := models.DecodePayload(models.ModelKind(ev.ModelKind), ev.RawBody)
	if err != nil {
		return models.StatusError, err
	}
	return s.HandlePayload(ctx, payload)
}

// HandlePayload routes a decoded payload to its handler. The switch is
// exhaustive over the closed payload union; the catch-up backfill and the
// manual-object trigger enter here as well, so every path shares the same
// scoring semantics.
func (s *IntakeService) HandlePayload(ctx context.Context, payload models.WebhookPayload) (models.HandledStatus, error) {
	switch p := payload.(type) {
	case *models.LocationPayload:
		return s.handleLocation(ctx, p)
	case *models.ProjectsUserPayload:
		return s.handleProjectsUser(ctx, p)
	case *models.ScaleTeamPayload:
		return s.handleScaleTeam(ctx, p)
	case *models.PoolPayload:
		return s.handlePool(ctx, p)
	default:
		return models.StatusError, fmt.Errorf("no handler for payload kind %q", payload.Kind())
	}
}

// handleLocation scores a closed workstation session and, for sessions the
// platform closed for inactivity, applies the idle-logout penalty.
func (s *IntakeService) handleLocation(ctx context.Context, p *models.LocationPayload) (models.HandledStatus, error) {
	if p.EndAt == nil {
		return models.StatusSkipped, nil
	}
	user, err := s.Users.Ensure(ctx, p.UserID)
	if err != nil {
		return models.StatusError, err
	}
	if user == nil {
		return models.StatusSkipped, nil
	}

	granted := false

	logtime, err := s.Ledger.FixedType(ctx, models.TypeLogtime)
	if err != nil {
		return models.StatusError, fmt.Errorf("missing %s point type: %w", models.TypeLogtime, err)
	}
	if logtime.PointAmount != 0 {
		points, hours := LogtimePoints(p.BeginAt, *p.EndAt, logtime.PointAmount)
		grant, err := s.Ledger.AwardDelta(ctx, user, models.TypeLogtime, p.ID, points, LogtimeReason(hours, p.Host))
		if err != nil {
			return models.StatusError, err
		}
		if grant != nil {
			granted = true
			s.Recon.MirrorIfEligible(ctx, grant)
		}
	}

	if p.Idle {
		penalty, err := s.Ledger.FixedType(ctx, models.TypeIdleLogout)
		if err != nil {
			return models.StatusError, fmt.Errorf("missing %s point type: %w", models.TypeIdleLogout, err)
		}
		if penalty.PointAmount != 0 {
			grant, err := s.Ledger.AwardDelta(ctx, user, models.TypeIdleLogout, p.ID, penalty.PointAmount, IdleLogoutReason(p.Host))
			if err != nil {
				return models.StatusError, err
			}
			if grant != nil {
				granted = true
				s.Recon.MirrorIfEligible(ctx, grant)
			}
		}
	}

	if !granted {
		return models.StatusSkipped, nil
	}
	return models.StatusOk, nil
}

// handleProjectsUser scores validated project and exam finishes. Exams pay a
// flat amount; regular projects use the mark/difficulty formula and are
// silently skipped when the project carries no positive difficulty.
func (s *IntakeService) handleProjectsUser(ctx context.Context, p *models.ProjectsUserPayload) (models.HandledStatus, error) {
	if !p.Finished() {
		return models.StatusSkipped, nil
	}
	user, err := s.Users.Ensure(ctx, p.UserID)
	if err != nil {
		return models.StatusError, err
	}
	if user == nil {
		return models.StatusSkipped, nil
	}

	typeKey := models.TypeProject
	if p.Project.Exam {
		typeKey = models.TypeExam
	}
	ft, err := s.Ledger.FixedType(ctx, typeKey)
	if err != nil {
		return models.StatusError, fmt.Errorf("missing %s point type: %w", typeKey, err)
	}
	if ft.PointAmount == 0 {
		return models.StatusSkipped, nil
	}

	var points int64
	if p.Project.Exam {
		points = ft.PointAmount
	} else {
		if p.Project.Difficulty <= 0 {
			return models.StatusSkipped, nil
		}
		points = ProjectPoints(*p.FinalMark, p.Project.Difficulty, ft.PointAmount)
	}

	grant, err := s.Ledger.AwardDelta(ctx, user, typeKey, p.ID, points, ProjectReason(p.Project.Name, *p.FinalMark))
	if err != nil {
		return models.StatusError, err
	}
	if grant == nil {
		return models.StatusSkipped, nil
	}
	s.Recon.MirrorIfEligible(ctx, grant)
	return models.StatusOk, nil
}

// handleScaleTeam scores a filled peer evaluation for its corrector.
// Supervisor-kind correctors denote external-company evaluations and never
// score.
func (s *IntakeService) handleScaleTeam(ctx context.Context, p *models.ScaleTeamPayload) (models.HandledStatus, error) {
	if p.FilledAt == nil || p.Supervised() {
		return models.StatusSkipped, nil
	}
	user, err := s.Users.Ensure(ctx, p.Corrector.ID)
	if err != nil {
		return models.StatusError, err
	}
	if user == nil {
		return models.StatusSkipped, nil
	}

	ft, err := s.Ledger.FixedType(ctx, models.TypeEvaluation)
	if err != nil {
		return models.StatusError, fmt.Errorf("missing %s point type: %w", models.TypeEvaluation, err)
	}
	if ft.PointAmount == 0 {
		return models.StatusSkipped, nil
	}

	grant, err := s.Ledger.AwardDelta(ctx, user, models.TypeEvaluation, p.ID, ft.PointAmount, EvaluationReason(p.ProjectID))
	if err != nil {
		return models.StatusError, err
	}
	if grant == nil {
		return models.StatusSkipped, nil
	}
	s.Recon.MirrorIfEligible(ctx, grant)
	return models.StatusOk, nil
}

// handlePool scores point donations for the donor. The ledger converges to
// the pool's reported running total, so in-order events award exactly
// (new_total - old_total) * point_amount and replays are no-ops.
func (s *IntakeService) handlePool(ctx context.Context, p *models.PoolPayload) (models.HandledStatus, error) {
	user, err := s.Users.Ensure(ctx, p.UserID)
	if err != nil {
		return models.StatusError, err
	}
	if user == nil {
		return models.StatusSkipped, nil
	}

	ft, err := s.Ledger.FixedType(ctx, models.TypePointDonated)
	if err != nil {
		return models.StatusError, fmt.Errorf("missing %s point type: %w", models.TypePointDonated, err)
	}
	if ft.PointAmount == 0 {
		return models.StatusSkipped, nil
	}

	donated := p.NewPoints - p.OldPoints
	// convergence target: the full running total scored from zero
	target := DonationPoints(0, p.NewPoints, ft.PointAmount)
	grant, err := s.Ledger.AwardDelta(ctx, user, models.TypePointDonated, p.ID, target, DonationReason(donated))
	if err != nil {
		return models.StatusError, err
	}
	if grant == nil {
		return models.StatusSkipped, nil
	}
	s.Recon.MirrorIfEligible(ctx, grant)
	return models.StatusOk, nil
}

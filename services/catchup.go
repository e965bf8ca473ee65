// services/catchup.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"coalition-score-engine/models"
	"coalition-score-engine/platform"
	"coalition-score-engine/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrCatchupRunning enforces the single-flight guard: only one catch-up may
// run at a time.
var ErrCatchupRunning = errors.New("a catch-up is already running")

// catchupSource describes how one model kind is backfilled from the
// platform's paginated list endpoints.
type catchupSource struct {
	kind       models.ModelKind
	listPath   string
	rangeField string
}

var catchupSources = map[models.ModelKind]catchupSource{
	models.ModelLocation:     {kind: models.ModelLocation, listPath: "/locations", rangeField: "range[end_at]"},
	models.ModelProjectsUser: {kind: models.ModelProjectsUser, listPath: "/projects_users", rangeField: "range[marked_at]"},
	models.ModelScaleTeam:    {kind: models.ModelScaleTeam, listPath: "/scale_teams", rangeField: "range[filled_at]"},
}

// objectPaths maps model kinds to their single-resource endpoints for the
// manual trigger path.
var objectPaths = map[models.ModelKind]string{
	models.ModelLocation:     "/locations/%d",
	models.ModelProjectsUser: "/projects_users/%d",
	models.ModelScaleTeam:    "/scale_teams/%d",
	models.ModelPool:         "/pools/%d",
}

// CatchupService backfills a bounded date range of platform objects through
// the same handlers the webhook path uses. Handlers are delta-idempotent, so
// re-running a window is side-effect-free.
type CatchupService struct {
	DB       *gorm.DB
	Log      *logrus.Logger
	Platform *platform.Client
	Intake   *IntakeService
	State    *utils.StateStore

	mu sync.Mutex
}

func NewCatchupService(db *gorm.DB, logger *logrus.Logger, client *platform.Client, intake *IntakeService, state *utils.StateStore) *CatchupService {
	return &CatchupService{DB: db, Log: logger, Platform: client, Intake: intake, State: state}
}

// Start registers and launches a catch-up over [begin, end) for the selected
// model kinds. A zero begin defaults to the last durable sync or shutdown
// marker, whichever is later. Returns ErrCatchupRunning while another job is
// in flight. The job is not cancellable mid-flight; it runs to completion or
// failure in the background and records its outcome in the registry.
func (s *CatchupService) Start(begin, end time.Time, kinds []models.ModelKind) (*models.CatchupJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if begin.IsZero() {
		var err error
		if begin, err = s.defaultBegin(); err != nil {
			return nil, err
		}
	}
	if !begin.Before(end) {
		return nil, fmt.Errorf("catch-up window is empty: %s is not before %s", begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	if active, err := s.Active(); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrCatchupRunning
	}

	if len(kinds) == 0 {
		kinds = []models.ModelKind{models.ModelLocation, models.ModelProjectsUser, models.ModelScaleTeam}
	}
	for _, k := range kinds {
		if _, ok := catchupSources[k]; !ok {
			return nil, fmt.Errorf("model kind %q cannot be backfilled", k)
		}
	}

	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}
	job := &models.CatchupJob{
		ID:        uuid.NewString(),
		Status:    models.CatchupRunning,
		BeginAt:   begin,
		EndAt:     end,
		Kinds:     strings.Join(kindNames, ","),
		StartedAt: time.Now().UTC(),
	}
	if err := s.DB.Create(job).Error; err != nil {
		return nil, err
	}

	go s.run(job, kinds)
	return job, nil
}

// defaultBegin derives the window's lower bound from the durable markers: the
// later of the last completed sync and the last clean shutdown. An empty
// state store means the caller must supply begin_at explicitly.
func (s *CatchupService) defaultBegin() (time.Time, error) {
	if s.State == nil {
		return time.Time{}, errors.New("begin_at is required")
	}
	lastSync, err := s.State.LastSync()
	if err != nil {
		return time.Time{}, err
	}
	lastShutdown, err := s.State.LastShutdown()
	if err != nil {
		return time.Time{}, err
	}
	begin := lastSync
	if lastShutdown.After(begin) {
		begin = lastShutdown
	}
	if begin.IsZero() {
		return time.Time{}, errors.New("no sync markers recorded yet, begin_at is required")
	}
	return begin, nil
}

// Status loads one job from the registry.
func (s *CatchupService) Status(id string) (*models.CatchupJob, error) {
	var job models.CatchupJob
	if err := s.DB.First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Active returns the currently running job, or nil when none is in flight.
func (s *CatchupService) Active() (*models.CatchupJob, error) {
	var job models.CatchupJob
	err := s.DB.Where("status = ?", models.CatchupRunning).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// RecoverStale marks jobs left running by a previous process as failed so
// the single-flight guard does not wedge after a crash. A re-run of the same
// window is safe.
func (s *CatchupService) RecoverStale() error {
	return s.DB.Model(&models.CatchupJob{}).
		Where("status = ?", models.CatchupRunning).
		Updates(map[string]any{"status": models.CatchupFailed, "error": "interrupted by restart"}).Error
}

func (s *CatchupService) run(job *models.CatchupJob, kinds []models.ModelKind) {
	ctx := context.Background()
	s.Log.Infof("⏩ Catch-up %s started: %s → %s (%s)", job.ID, job.BeginAt.Format(time.RFC3339), job.EndAt.Format(time.RFC3339), job.Kinds)

	var failure error
	for i, kind := range kinds {
		if err := s.backfillKind(ctx, job, kinds, i); err != nil {
			failure = fmt.Errorf("backfilling %s: %w", kind, err)
			break
		}
	}

	now := time.Now().UTC()
	updates := map[string]any{"finished_at": now}
	if failure != nil {
		updates["status"] = models.CatchupFailed
		updates["error"] = failure.Error()
		s.Log.Errorf("❌ Catch-up %s failed: %v", job.ID, failure)
	} else {
		updates["status"] = models.CatchupDone
		updates["progress"] = 100.0
		s.Log.Infof("✅ Catch-up %s finished", job.ID)
		if s.State != nil {
			if err := s.State.SetLastSync(job.EndAt); err != nil {
				s.Log.Errorf("❌ Failed to persist sync marker: %v", err)
			}
		}
	}
	if err := s.DB.Model(&models.CatchupJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		s.Log.Errorf("❌ Failed to record catch-up outcome: %v", err)
	}
}

func (s *CatchupService) backfillKind(ctx context.Context, job *models.CatchupJob, kinds []models.ModelKind, index int) error {
	source := catchupSources[kinds[index]]
	query := url.Values{}
	query.Set(source.rangeField, fmt.Sprintf("%s,%s", job.BeginAt.UTC().Format(time.RFC3339), job.EndAt.UTC().Format(time.RFC3339)))

	return s.Platform.EachPage(ctx, source.listPath, query, func(body []byte, page, totalPages int) error {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return fmt.Errorf("decoding %s page %d: %w", source.listPath, page, err)
		}
		for _, item := range items {
			payload, err := models.DecodePayload(source.kind, item)
			if err != nil {
				s.Log.Warnf("⚠️ Skipping undecodable %s object during catch-up: %v", source.kind, err)
				continue
			}
			if _, err := s.Intake.HandlePayload(ctx, payload); err != nil {
				s.Log.Errorf("❌ Catch-up handler error for %s object: %v", source.kind, err)
			}
		}
		s.updateProgress(job, kinds, index, page, totalPages)
		return nil
	})
}

// updateProgress advances the job's progress percentage monotonically. When
// the platform reports no total, the per-kind fraction approaches 1 without
// reaching it so progress never moves backwards.
func (s *CatchupService) updateProgress(job *models.CatchupJob, kinds []models.ModelKind, index, page, totalPages int) {
	var frac float64
	if totalPages > 0 {
		frac = float64(page) / float64(totalPages)
	} else {
		frac = 1 - 1/float64(page+1)
	}
	if frac > 1 {
		frac = 1
	}
	progress := (float64(index) + frac) / float64(len(kinds)) * 100

	if progress <= job.Progress {
		return
	}
	job.Progress = progress
	if err := s.DB.Model(&models.CatchupJob{}).Where("id = ?", job.ID).Update("progress", progress).Error; err != nil {
		s.Log.Errorf("❌ Failed to update catch-up progress: %v", err)
	}
}

// HandleObject fetches one platform object by id and runs it through the
// matching handler, exactly as if it had arrived via webhook.
func (s *CatchupService) HandleObject(ctx context.Context, kind models.ModelKind, objectID int64) (models.HandledStatus, error) {
	pathTmpl, ok := objectPaths[kind]
	if !ok {
		return "", fmt.Errorf("model kind %q has no object endpoint", kind)
	}
	body, err := s.Platform.Get(ctx, fmt.Sprintf(pathTmpl, objectID), nil)
	if err != nil {
		return "", err
	}
	payload, err := models.DecodePayload(kind, body)
	if err != nil {
		return "", err
	}
	return s.Intake.HandlePayload(ctx, payload)
}

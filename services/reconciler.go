// services/reconciler.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coalition-score-engine/config"
	"coalition-score-engine/models"
	"coalition-score-engine/platform"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrOutsideSeason is returned when a grant falls outside the currently
// active season: the platform only accepts score creations "now", so
// past-season grants are never mirrored individually.
var ErrOutsideSeason = errors.New("grant outside the current season")

// Reconciler mirrors ledger grants onto the platform and periodically trues
// each coalition's externally visible total against the local ledger. The
// platform offers no atomic upsert: updates are delete+recreate, and the
// create-race is resolved by conditionally claiming the mirror column after
// creation and deleting the loser's score.
type Reconciler struct {
	DB       *gorm.DB
	Log      *logrus.Logger
	Cfg      *config.Config
	Platform platform.API
	Ledger   *LedgerService
	Season   *SeasonService
}

func NewReconciler(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, api platform.API, ledger *LedgerService, season *SeasonService) *Reconciler {
	return &Reconciler{DB: db, Log: logger, Cfg: cfg, Platform: api, Ledger: ledger, Season: season}
}

// MirrorIfEligible mirrors a grant when the deployment is live-syncing and
// the grant belongs to the current season. Failures are logged, never
// propagated: the local ledger stays authoritative and the next rebalancing
// pass self-heals.
func (r *Reconciler) MirrorIfEligible(ctx context.Context, grant *models.ScoreGrant) {
	if grant == nil || !r.Cfg.LiveSync() {
		return
	}
	if _, err := r.Mirror(ctx, grant); err != nil {
		if errors.Is(err, ErrOutsideSeason) {
			return
		}
		r.Log.Errorf("❌ Failed to mirror grant %s: %v", grant.ID, err)
	}
}

// Mirror creates the platform copy of a grant and records its id. After the
// create, the mirror column is claimed with a conditional write: if a
// concurrent mirror already won, the score just created is deleted and the
// winner's id is kept, so exactly one live external record survives per grant.
func (r *Reconciler) Mirror(ctx context.Context, grant *models.ScoreGrant) (int64, error) {
	season, err := r.Season.Current(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if !season.Contains(grant.CreatedAt) {
		return 0, ErrOutsideSeason
	}

	payload := platform.ScorePayload{
		Reason: grant.Reason,
		Value:  grant.Amount,
	}
	if grant.UserID != 0 {
		membershipID, err := r.Platform.CoalitionsUserID(ctx, grant.UserID, grant.CoalitionID)
		if err != nil {
			return 0, fmt.Errorf("resolving coalition membership: %w", err)
		}
		payload.CoalitionsUserID = &membershipID
	}

	scoreID, err := r.Platform.CreateScore(ctx, grant.CoalitionID, payload)
	if err != nil {
		return 0, fmt.Errorf("creating platform score: %w", err)
	}

	// Claim the mirror column only while it is still empty, so two
	// concurrent mirrors can never both record their own score id.
	claim := r.DB.WithContext(ctx).
		Model(&models.ScoreGrant{}).
		Where("id = ? AND external_mirror_id IS NULL", grant.ID).
		Update("external_mirror_id", scoreID)
	if claim.Error != nil {
		return 0, claim.Error
	}
	if claim.RowsAffected == 0 {
		// Lost the race: another process mirrored first. Delete ours.
		var fresh models.ScoreGrant
		if err := r.DB.WithContext(ctx).First(&fresh, "id = ?", grant.ID).Error; err != nil {
			return 0, err
		}
		if fresh.ExternalMirrorID == nil {
			return 0, fmt.Errorf("mirror claim failed for grant %s but no winner recorded", grant.ID)
		}
		r.Log.Warnf("⚠️ Duplicate mirror race on grant %s, deleting score %d", grant.ID, scoreID)
		if err := r.Platform.DeleteScore(ctx, grant.CoalitionID, scoreID); err != nil {
			r.Log.Errorf("❌ Failed to delete duplicate score %d: %v", scoreID, err)
		}
		grant.ExternalMirrorID = fresh.ExternalMirrorID
		return *fresh.ExternalMirrorID, nil
	}
	grant.ExternalMirrorID = &scoreID
	return scoreID, nil
}

// Unmirror deletes the platform copy and nulls the mirror column. The column
// must be cleared before any new mirror is created.
func (r *Reconciler) Unmirror(ctx context.Context, grant *models.ScoreGrant) error {
	if grant.ExternalMirrorID == nil {
		return nil
	}
	if err := r.Platform.DeleteScore(ctx, grant.CoalitionID, *grant.ExternalMirrorID); err != nil {
		return fmt.Errorf("deleting platform score %d: %w", *grant.ExternalMirrorID, err)
	}
	if err := r.DB.WithContext(ctx).
		Model(&models.ScoreGrant{}).
		Where("id = ?", grant.ID).
		Update("external_mirror_id", nil).Error; err != nil {
		return err
	}
	grant.ExternalMirrorID = nil
	return nil
}

// Remirror is the named delete+recreate pair used to update a mirrored
// grant, since the platform exposes no partial update for scores.
func (r *Reconciler) Remirror(ctx context.Context, grant *models.ScoreGrant) error {
	if err := r.Unmirror(ctx, grant); err != nil {
		return err
	}
	_, err := r.Mirror(ctx, grant)
	return err
}

// RebalanceCoalition trues a coalition's platform total against the local
// authoritative total by creating one adjustment score for the signed
// difference, attributed to no single user. An external total above the
// local one indicates unmirrored data and is reported loudly, but the
// adjustment is still applied: the ledger is the source of truth.
func (r *Reconciler) RebalanceCoalition(ctx context.Context, coalitionID int64) error {
	now := time.Now().UTC()
	season, err := r.Season.Current(ctx, now)
	if err != nil {
		return err
	}

	local, err := r.Ledger.CoalitionSeasonTotal(ctx, coalitionID, season, now)
	if err != nil {
		return err
	}
	external, err := r.Platform.CoalitionTotal(ctx, coalitionID)
	if err != nil {
		return fmt.Errorf("fetching platform total for coalition %d: %w", coalitionID, err)
	}

	diff := local - external
	if diff == 0 {
		return nil
	}
	if external > local {
		r.Log.Warnf("🚨 Coalition %d platform total %d exceeds local %d — unmirrored data upstream, adjusting anyway",
			coalitionID, external, local)
	}

	payload := platform.ScorePayload{
		Reason: fmt.Sprintf("Coalition total adjustment (%+d)", diff),
		Value:  diff,
	}
	if _, err := r.Platform.CreateScore(ctx, coalitionID, payload); err != nil {
		return fmt.Errorf("creating adjustment score for coalition %d: %w", coalitionID, err)
	}
	r.Log.Infof("⚖️  Rebalanced coalition %d: local=%d external=%d adjustment=%+d", coalitionID, local, external, diff)
	return nil
}

// RebalanceAll runs the corrective sweep across every coalition. Per-
// coalition failures are logged and skipped so one bad coalition never
// aborts the pass; the next scheduled run retries.
func (r *Reconciler) RebalanceAll(ctx context.Context) error {
	if !r.Cfg.LiveSync() {
		return nil
	}
	var coalitions []models.Coalition
	if err := r.DB.WithContext(ctx).Find(&coalitions).Error; err != nil {
		return err
	}
	for _, coalition := range coalitions {
		if err := r.RebalanceCoalition(ctx, coalition.ID); err != nil {
			if errors.Is(err, ErrNoCurrentSeason) {
				return nil
			}
			r.Log.Errorf("❌ Rebalance failed for coalition %d: %v", coalition.ID, err)
		}
	}
	return nil
}

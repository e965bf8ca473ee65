// services/ledger.go
package services

import (
	"context"
	"time"

	"coalition-score-engine/config"
	"coalition-score-engine/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerService owns the append/adjust store of score grants. Grants are
// never mutated after creation except for their mirror id; corrections are
// expressed as additional delta grants so the trail stays auditable.
type LedgerService struct {
	DB  *gorm.DB
	Log *logrus.Logger
	Cfg *config.Config
}

func NewLedgerService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config) *LedgerService {
	return &LedgerService{DB: db, Log: logger, Cfg: cfg}
}

// FixedType loads one catalog entry. A missing entry is a fatal
// configuration error for the unit of work that needed it.
func (s *LedgerService) FixedType(ctx context.Context, key string) (*models.FixedPointType, error) {
	var ft models.FixedPointType
	if err := s.DB.WithContext(ctx).Where("key = ?", key).First(&ft).Error; err != nil {
		return nil, err
	}
	return &ft, nil
}

// Award appends one grant for a user. Returns (nil, nil) on business skips:
// zero amount, or a disqualified user (staff, test account, no coalition).
func (s *LedgerService) Award(ctx context.Context, user *models.User, typeKey string, objectID *int64, amount int64, reason string) (*models.ScoreGrant, error) {
	if amount == 0 {
		return nil, nil
	}
	if DisqualifiedUser(user, s.Cfg) {
		s.Log.Infof("⏭️  Skipping grant for disqualified user %s (%s)", userLogin(user), reason)
		return nil, nil
	}

	grant := &models.ScoreGrant{
		ID:               uuid.NewString(),
		Amount:           amount,
		FixedTypeKey:     &typeKey,
		ExternalObjectID: objectID,
		UserID:           user.ID,
		CoalitionID:      *user.CoalitionID,
		Reason:           reason,
	}
	if err := s.DB.WithContext(ctx).Create(grant).Error; err != nil {
		return nil, err
	}
	s.Log.Infof("💰 Grant: %+d to %s (%s)", amount, user.Login, reason)
	return grant, nil
}

// AwardDelta converges the ledger to the latest externally reported value
// for one (user, type, object): prior grants for the key are summed and a
// new grant equal to newTotal - prior is appended. A zero delta records
// nothing, so re-reporting an identical result is a no-op.
func (s *LedgerService) AwardDelta(ctx context.Context, user *models.User, typeKey string, objectID int64, newTotal int64, reason string) (*models.ScoreGrant, error) {
	if DisqualifiedUser(user, s.Cfg) {
		s.Log.Infof("⏭️  Skipping delta grant for disqualified user %s (%s)", userLogin(user), reason)
		return nil, nil
	}

	prior, err := s.priorSum(ctx, user.ID, typeKey, objectID)
	if err != nil {
		return nil, err
	}
	delta := newTotal - prior
	if delta == 0 {
		return nil, nil
	}
	return s.Award(ctx, user, typeKey, &objectID, delta, reason)
}

func (s *LedgerService) priorSum(ctx context.Context, userID int64, typeKey string, objectID int64) (int64, error) {
	var sum int64
	err := s.DB.WithContext(ctx).
		Model(&models.ScoreGrant{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND fixed_type_key = ? AND external_object_id = ?", userID, typeKey, objectID).
		Scan(&sum).Error
	return sum, err
}

// CoalitionSeasonTotal is the local authoritative total for a coalition
// within a season, up to cutoff. This is the number the reconciler trues the
// platform against.
func (s *LedgerService) CoalitionSeasonTotal(ctx context.Context, coalitionID int64, season *models.Season, cutoff time.Time) (int64, error) {
	var sum int64
	err := s.DB.WithContext(ctx).
		Model(&models.ScoreGrant{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("coalition_id = ? AND created_at >= ? AND created_at < ? AND created_at <= ?",
			coalitionID, season.BeginAt, season.EndAt, cutoff).
		Scan(&sum).Error
	return sum, err
}

// UserSeasonTotal sums one user's grants within a season, up to cutoff.
func (s *LedgerService) UserSeasonTotal(ctx context.Context, userID int64, season *models.Season, cutoff time.Time) (int64, error) {
	var sum int64
	err := s.DB.WithContext(ctx).
		Model(&models.ScoreGrant{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND created_at >= ? AND created_at < ? AND created_at <= ?",
			userID, season.BeginAt, season.EndAt, cutoff).
		Scan(&sum).Error
	return sum, err
}

func userLogin(u *models.User) string {
	if u == nil {
		return "<none>"
	}
	return u.Login
}

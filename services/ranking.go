// services/ranking.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"coalition-score-engine/config"
	"coalition-score-engine/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const hoursPerWeek = 168

// Entry is one leaderboard row. Ranks are assigned competition-style: equal
// scores share a rank, and the next distinct score gets rank = position.
type Entry struct {
	UserID int64 `json:"user_id"`
	Points int64 `json:"points"`
	Rank   int   `json:"rank"`
}

// Stats is the statistical aggregate for one coalition. Score is the
// published headline number: floor of the mean over the entire membership.
// ActiveMean covers only members at or above mean-stddev and is kept as a
// diagnostic, never published.
type Stats struct {
	CoalitionID int64   `json:"coalition_id"`
	Members     int     `json:"members"`
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	StdDev      float64 `json:"std_dev"`
	ActiveCount int     `json:"active_count"`
	ActiveMean  float64 `json:"active_mean"`
	Score       int64   `json:"score"`
}

// RankingService derives time-windowed leaderboards, distributes hourly
// bonus budgets to current leaders, and computes coalition statistics from
// the ledger.
type RankingService struct {
	DB     *gorm.DB
	Log    *logrus.Logger
	Cfg    *config.Config
	Ledger *LedgerService
	Season *SeasonService
}

func NewRankingService(db *gorm.DB, logger *logrus.Logger, cfg *config.Config, ledger *LedgerService) *RankingService {
	return &RankingService{DB: db, Log: logger, Cfg: cfg, Ledger: ledger}
}

// Leaderboard computes the board for a ranking key inside the current
// season at cutoff.
func (s *RankingService) Leaderboard(ctx context.Context, key string, cutoff time.Time) ([]Entry, error) {
	var ranking models.Ranking
	if err := s.DB.WithContext(ctx).Preload("FixedTypes").Where("key = ?", key).First(&ranking).Error; err != nil {
		return nil, err
	}
	season, err := s.Season.Current(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return s.LeaderboardFor(ctx, &ranking, season, cutoff)
}

// LeaderboardFor sums grant amounts per user over the ranking's fixed types
// within the season up to cutoff, discards non-positive totals, and assigns
// shared ranks.
func (s *RankingService) LeaderboardFor(ctx context.Context, ranking *models.Ranking, season *models.Season, cutoff time.Time) ([]Entry, error) {
	keys := ranking.TypeKeys()
	if len(keys) == 0 {
		return nil, nil
	}

	type row struct {
		UserID int64
		Points int64
	}
	var rows []row
	err := s.DB.WithContext(ctx).
		Model(&models.ScoreGrant{}).
		Select("user_id, SUM(amount) AS points").
		Where("user_id <> 0 AND fixed_type_key IN ?", keys).
		Where("created_at >= ? AND created_at < ? AND created_at <= ?", season.BeginAt, season.EndAt, cutoff).
		Group("user_id").
		Having("SUM(amount) > 0").
		Order("points DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	rank := 0
	var prev int64
	for i, r := range rows {
		if i == 0 || r.Points < prev {
			rank = i + 1
			prev = r.Points
		}
		entries = append(entries, Entry{UserID: r.UserID, Points: r.Points, Rank: rank})
	}
	return entries, nil
}

// Leaders returns the rank-1 set.
func Leaders(entries []Entry) []Entry {
	var leaders []Entry
	for _, e := range entries {
		if e.Rank != 1 {
			break
		}
		leaders = append(leaders, e)
	}
	return leaders
}

// DistributeBonuses walks each enabled ranking's bonus window hour by hour
// up to now, awarding floor(weekly/168) per hour split evenly (floored)
// across the rank-1 users at that hour. The watermark is persisted after
// every processed hour, so a restart resumes without double awards. Bonuses
// only flow during the final week of the current season.
func (s *RankingService) DistributeBonuses(ctx context.Context, now time.Time) error {
	season, err := s.Season.Current(ctx, now)
	if err != nil {
		if errors.Is(err, ErrNoCurrentSeason) {
			return nil
		}
		return err
	}

	bonusType, err := s.Ledger.FixedType(ctx, models.TypeRankingBonus)
	if err != nil {
		return fmt.Errorf("loading %s point type: %w", models.TypeRankingBonus, err)
	}
	if bonusType.PointAmount == 0 {
		// Catalog switch: a zero-amount ranking_bonus entry disables the
		// whole sweep. Watermarks stay put so re-enabling resumes cleanly.
		return nil
	}

	var rankings []models.Ranking
	if err := s.DB.WithContext(ctx).Preload("FixedTypes").
		Where("disabled = ? AND bonus_points_per_week > 0", false).
		Find(&rankings).Error; err != nil {
		return err
	}

	for i := range rankings {
		if err := s.distributeFor(ctx, &rankings[i], season, now); err != nil {
			s.Log.Errorf("❌ Bonus sweep failed for ranking %q: %v", rankings[i].Key, err)
		}
	}
	return nil
}

func (s *RankingService) distributeFor(ctx context.Context, ranking *models.Ranking, season *models.Season, now time.Time) error {
	hourly := ranking.BonusPointsPerWeek / hoursPerWeek
	if hourly <= 0 {
		// Nothing to award at this budget; leave the watermark untouched.
		return nil
	}

	windowStart := season.EndAt.Add(-hoursPerWeek * time.Hour)
	if windowStart.Before(season.BeginAt) {
		windowStart = season.BeginAt
	}
	from := windowStart
	if ranking.LastBonusWatermark != nil && ranking.LastBonusWatermark.After(from) {
		from = *ranking.LastBonusWatermark
	}
	end := now
	if end.After(season.EndAt) {
		end = season.EndAt
	}

	awarded := 0
	for hour := from.Truncate(time.Hour).Add(time.Hour); !hour.After(end); hour = hour.Add(time.Hour) {
		if err := s.awardHour(ctx, ranking, season, hour, hourly); err != nil {
			return err
		}
		watermark := hour
		if err := s.DB.WithContext(ctx).
			Model(&models.Ranking{}).
			Where("id = ?", ranking.ID).
			Update("last_bonus_watermark", watermark).Error; err != nil {
			return fmt.Errorf("persisting watermark: %w", err)
		}
		ranking.LastBonusWatermark = &watermark
		awarded++
	}
	if awarded > 0 {
		s.Log.Infof("🎁 Bonus sweep for %q processed %d hour(s)", ranking.Key, awarded)
	}
	return nil
}

func (s *RankingService) awardHour(ctx context.Context, ranking *models.Ranking, season *models.Season, hour time.Time, hourly int64) error {
	entries, err := s.LeaderboardFor(ctx, ranking, season, hour)
	if err != nil {
		return err
	}
	leaders := Leaders(entries)
	if len(leaders) == 0 {
		return nil
	}
	share := hourly / int64(len(leaders))
	if share <= 0 {
		return nil
	}

	reason := fmt.Sprintf("Ranking bonus: leader of %s at %s", ranking.Name, hour.UTC().Format(time.RFC3339))
	for _, leader := range leaders {
		user, err := s.loadUser(ctx, leader.UserID)
		if err != nil {
			s.Log.Warnf("⚠️ Bonus leader %d not found locally, skipping: %v", leader.UserID, err)
			continue
		}
		if _, err := s.Ledger.Award(ctx, user, models.TypeRankingBonus, nil, share, reason); err != nil {
			return err
		}
	}
	return nil
}

func (s *RankingService) loadUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CoalitionStats gathers every member's season-to-date total and reports the
// coalition's published score as floor(mean) over all members. Members at or
// above mean-stddev count as active; their mean is diagnostic only — a small
// elite minority could otherwise swing an active-only statistic unfairly.
func (s *RankingService) CoalitionStats(ctx context.Context, coalitionID int64, season *models.Season, cutoff time.Time) (*Stats, error) {
	var members []models.User
	if err := s.DB.WithContext(ctx).Where("coalition_id = ?", coalitionID).Find(&members).Error; err != nil {
		return nil, err
	}
	stats := &Stats{CoalitionID: coalitionID, Members: len(members)}
	if len(members) == 0 {
		return stats, nil
	}

	totals := make([]float64, 0, len(members))
	var sum float64
	for _, m := range members {
		total, err := s.Ledger.UserSeasonTotal(ctx, m.ID, season, cutoff)
		if err != nil {
			return nil, err
		}
		totals = append(totals, float64(total))
		sum += float64(total)
	}

	n := float64(len(totals))
	stats.Mean = sum / n

	sort.Float64s(totals)
	mid := len(totals) / 2
	if len(totals)%2 == 0 {
		stats.Median = (totals[mid-1] + totals[mid]) / 2
	} else {
		stats.Median = totals[mid]
	}

	var variance float64
	for _, t := range totals {
		variance += (t - stats.Mean) * (t - stats.Mean)
	}
	stats.StdDev = math.Sqrt(variance / n)

	threshold := stats.Mean - stats.StdDev
	var activeSum float64
	for _, t := range totals {
		if t >= threshold {
			stats.ActiveCount++
			activeSum += t
		}
	}
	if stats.ActiveCount > 0 {
		stats.ActiveMean = activeSum / float64(stats.ActiveCount)
	}

	stats.Score = int64(math.Floor(stats.Mean))
	return stats, nil
}

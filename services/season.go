// services/season.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"coalition-score-engine/models"
	"coalition-score-engine/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNoCurrentSeason is returned when no season window contains the instant.
var ErrNoCurrentSeason = errors.New("no current season")

// SeasonService resolves season windows and freezes results when a season
// ends.
type SeasonService struct {
	DB       *gorm.DB
	Log      *logrus.Logger
	Ranking  *RankingService
	Archiver *utils.Archiver
}

func NewSeasonService(db *gorm.DB, logger *logrus.Logger, ranking *RankingService, archiver *utils.Archiver) *SeasonService {
	return &SeasonService{DB: db, Log: logger, Ranking: ranking, Archiver: archiver}
}

// Current resolves the season whose half-open [BeginAt, EndAt) window
// contains at.
func (s *SeasonService) Current(ctx context.Context, at time.Time) (*models.Season, error) {
	var season models.Season
	err := s.DB.WithContext(ctx).
		Where("begin_at <= ? AND end_at > ?", at, at).
		Order("begin_at DESC").
		First(&season).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoCurrentSeason
	}
	if err != nil {
		return nil, err
	}
	return &season, nil
}

// CloseFinished freezes results for every season that has ended and has not
// been closed yet. Close-out is write-once: a season with a ClosedAt stamp
// is never recomputed.
func (s *SeasonService) CloseFinished(ctx context.Context, now time.Time) error {
	var ended []models.Season
	if err := s.DB.WithContext(ctx).
		Where("end_at <= ? AND closed_at IS NULL", now).
		Find(&ended).Error; err != nil {
		return err
	}

	for i := range ended {
		if err := s.closeSeason(ctx, &ended[i]); err != nil {
			s.Log.Errorf("❌ Failed to close season %q: %v", ended[i].Name, err)
			continue
		}
		s.Log.Infof("🏁 Season %q closed", ended[i].Name)
	}
	return nil
}

func (s *SeasonService) closeSeason(ctx context.Context, season *models.Season) error {
	cutoff := season.EndAt

	coalitionResults, err := s.coalitionResults(ctx, season, cutoff)
	if err != nil {
		return err
	}
	userResults, err := s.userResults(ctx, season, cutoff)
	if err != nil {
		return err
	}
	rankingResults, err := s.rankingResults(ctx, season)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(coalitionResults) > 0 {
			if err := tx.Create(&coalitionResults).Error; err != nil {
				return err
			}
			winner := coalitionResults[0].CoalitionID
			season.WinningCoalitionID = &winner
		}
		if len(userResults) > 0 {
			if err := tx.Create(&userResults).Error; err != nil {
				return err
			}
		}
		if len(rankingResults) > 0 {
			if err := tx.Create(&rankingResults).Error; err != nil {
				return err
			}
		}
		closedAt := time.Now().UTC()
		season.ClosedAt = &closedAt
		return tx.Save(season).Error
	})
	if err != nil {
		return err
	}

	s.archiveSnapshot(ctx, season, coalitionResults, userResults, rankingResults)
	return nil
}

// coalitionResults ranks coalitions by their published statistic score.
func (s *SeasonService) coalitionResults(ctx context.Context, season *models.Season, cutoff time.Time) ([]models.SeasonResult, error) {
	var coalitions []models.Coalition
	if err := s.DB.WithContext(ctx).Find(&coalitions).Error; err != nil {
		return nil, err
	}

	type scored struct {
		coalitionID int64
		score       int64
	}
	scoredList := make([]scored, 0, len(coalitions))
	for _, coalition := range coalitions {
		stats, err := s.Ranking.CoalitionStats(ctx, coalition.ID, season, cutoff)
		if err != nil {
			return nil, fmt.Errorf("stats for coalition %d: %w", coalition.ID, err)
		}
		scoredList = append(scoredList, scored{coalitionID: coalition.ID, score: stats.Score})
	}
	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].score > scoredList[j].score
	})

	results := make([]models.SeasonResult, 0, len(scoredList))
	rank := 0
	var prev int64
	for i, sc := range scoredList {
		if i == 0 || sc.score < prev {
			rank = i + 1
			prev = sc.score
		}
		results = append(results, models.SeasonResult{
			SeasonID:    season.ID,
			CoalitionID: sc.coalitionID,
			Rank:        rank,
			Score:       sc.score,
		})
	}
	return results, nil
}

func (s *SeasonService) userResults(ctx context.Context, season *models.Season, cutoff time.Time) ([]models.UserResult, error) {
	type row struct {
		UserID      int64
		CoalitionID int64
		Total       int64
	}
	var rows []row
	err := s.DB.WithContext(ctx).
		Model(&models.ScoreGrant{}).
		Select("user_id, coalition_id, SUM(amount) AS total").
		Where("user_id <> 0 AND created_at >= ? AND created_at < ?", season.BeginAt, cutoff).
		Group("user_id, coalition_id").
		Order("total DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	results := make([]models.UserResult, 0, len(rows))
	rank := 0
	var prev int64
	for i, r := range rows {
		if i == 0 || r.Total < prev {
			rank = i + 1
			prev = r.Total
		}
		results = append(results, models.UserResult{
			SeasonID:    season.ID,
			UserID:      r.UserID,
			CoalitionID: r.CoalitionID,
			TotalPoints: r.Total,
			Rank:        rank,
		})
	}
	return results, nil
}

func (s *SeasonService) rankingResults(ctx context.Context, season *models.Season) ([]models.RankingResult, error) {
	var rankings []models.Ranking
	if err := s.DB.WithContext(ctx).Preload("FixedTypes").Where("disabled = ?", false).Find(&rankings).Error; err != nil {
		return nil, err
	}

	var results []models.RankingResult
	for i := range rankings {
		entries, err := s.Ranking.LeaderboardFor(ctx, &rankings[i], season, season.EndAt)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			results = append(results, models.RankingResult{
				SeasonID:  season.ID,
				RankingID: rankings[i].ID,
				UserID:    e.UserID,
				Rank:      e.Rank,
				Score:     e.Points,
			})
		}
	}
	return results, nil
}

// archiveSnapshot uploads the frozen results as JSON to object storage when
// archiving is configured. Failures are logged only; the close-out itself
// already committed.
func (s *SeasonService) archiveSnapshot(ctx context.Context, season *models.Season, coalitions []models.SeasonResult, users []models.UserResult, rankings []models.RankingResult) {
	if s.Archiver == nil || !s.Archiver.Enabled() {
		return
	}
	snapshot := map[string]any{
		"season":            season,
		"coalition_results": coalitions,
		"user_results":      users,
		"ranking_results":   rankings,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.Log.Errorf("❌ Failed to encode season snapshot: %v", err)
		return
	}
	key := fmt.Sprintf("seasons/%d-results.json", season.ID)
	url, err := s.Archiver.UploadSnapshot(ctx, key, data)
	if err != nil {
		s.Log.Errorf("❌ Failed to archive season snapshot: %v", err)
		return
	}
	s.Log.Infof("🗄️  Season %q results archived at %s", season.Name, url)
}

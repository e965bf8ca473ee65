package services

import (
	"context"
	"testing"
	"time"

	"coalition-score-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentSeasonWindowIsHalfOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	begin := time.Now().UTC().Add(-24 * time.Hour)
	end := begin.Add(48 * time.Hour)
	season := env.seedSeason(t, begin, end)

	got, err := env.Season.Current(ctx, begin)
	require.NoError(t, err)
	assert.Equal(t, season.ID, got.ID)

	_, err = env.Season.Current(ctx, end)
	require.ErrorIs(t, err, ErrNoCurrentSeason)

	_, err = env.Season.Current(ctx, begin.Add(-time.Second))
	require.ErrorIs(t, err, ErrNoCurrentSeason)
}

func TestCurrentSeasonPrefersLatestBegin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	env.seedSeason(t, now.Add(-960*time.Hour), now.Add(960*time.Hour))
	inner := env.seedSeason(t, now.Add(-24*time.Hour), now.Add(24*time.Hour))

	got, err := env.Season.Current(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, inner.ID, got.ID)
}

func TestCloseFinishedFreezesResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedCoalition(t, 1, "Vela")
	env.seedCoalition(t, 2, "Orion")
	env.seedUser(t, 1, "alice", 1)
	env.seedUser(t, 2, "bob", 1)
	env.seedUser(t, 3, "carol", 2)

	now := time.Now().UTC()
	begin := now.Add(-300 * time.Hour)
	season := env.seedSeason(t, begin, now.Add(-time.Hour))
	env.seedRanking(t, "overall", 0, models.TypeLogtime)

	at := begin.Add(time.Hour)
	env.seedGrant(t, 1, 1, models.TypeLogtime, 100, at)
	env.seedGrant(t, 2, 1, models.TypeLogtime, 50, at)
	env.seedGrant(t, 3, 2, models.TypeLogtime, 40, at)

	require.NoError(t, env.Season.CloseFinished(ctx, now))

	var fresh models.Season
	require.NoError(t, env.DB.First(&fresh, "id = ?", season.ID).Error)
	require.NotNil(t, fresh.ClosedAt)
	require.NotNil(t, fresh.WinningCoalitionID)
	// Vela: floor((100+50)/2) = 75 beats Orion's 40
	assert.Equal(t, int64(1), *fresh.WinningCoalitionID)

	var coalitionResults []models.SeasonResult
	require.NoError(t, env.DB.Where("season_id = ?", season.ID).Order("rank ASC").Find(&coalitionResults).Error)
	require.Len(t, coalitionResults, 2)
	assert.Equal(t, int64(1), coalitionResults[0].CoalitionID)
	assert.Equal(t, int64(75), coalitionResults[0].Score)
	assert.Equal(t, 1, coalitionResults[0].Rank)
	assert.Equal(t, int64(2), coalitionResults[1].CoalitionID)
	assert.Equal(t, int64(40), coalitionResults[1].Score)
	assert.Equal(t, 2, coalitionResults[1].Rank)

	var userResults []models.UserResult
	require.NoError(t, env.DB.Where("season_id = ?", season.ID).Order("rank ASC").Find(&userResults).Error)
	require.Len(t, userResults, 3)
	assert.Equal(t, int64(1), userResults[0].UserID)
	assert.Equal(t, int64(100), userResults[0].TotalPoints)
	assert.Equal(t, int64(3), userResults[2].UserID)
	assert.Equal(t, 3, userResults[2].Rank)

	var rankingResults []models.RankingResult
	require.NoError(t, env.DB.Where("season_id = ?", season.ID).Find(&rankingResults).Error)
	assert.Len(t, rankingResults, 3)
}

func TestCloseFinishedIsWriteOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 1, "alice", 1)

	now := time.Now().UTC()
	begin := now.Add(-300 * time.Hour)
	season := env.seedSeason(t, begin, now.Add(-time.Hour))
	env.seedGrant(t, 1, 1, models.TypeLogtime, 100, begin.Add(time.Hour))

	require.NoError(t, env.Season.CloseFinished(ctx, now))

	var fresh models.Season
	require.NoError(t, env.DB.First(&fresh, "id = ?", season.ID).Error)
	firstClose := *fresh.ClosedAt

	// a later grant must not change the frozen results
	env.seedGrant(t, 1, 1, models.TypeLogtime, 999, begin.Add(2*time.Hour))
	require.NoError(t, env.Season.CloseFinished(ctx, now.Add(time.Hour)))

	var count int64
	require.NoError(t, env.DB.Model(&models.SeasonResult{}).Where("season_id = ?", season.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, env.DB.First(&fresh, "id = ?", season.ID).Error)
	assert.True(t, fresh.ClosedAt.Equal(firstClose))
}

func TestCloseFinishedIgnoresRunningSeasons(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	season := env.seedSeason(t, now.Add(-24*time.Hour), now.Add(24*time.Hour))

	require.NoError(t, env.Season.CloseFinished(ctx, now))

	var fresh models.Season
	require.NoError(t, env.DB.First(&fresh, "id = ?", season.ID).Error)
	assert.Nil(t, fresh.ClosedAt)
	assert.Nil(t, fresh.WinningCoalitionID)
}

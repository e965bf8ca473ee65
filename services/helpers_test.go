package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"coalition-score-engine/config"
	"coalition-score-engine/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testEnv wires the full service graph against an in-memory sqlite DB in
// dry sync mode, so no outbound platform calls happen unless a test swaps
// in a platform API explicitly.
type testEnv struct {
	DB      *gorm.DB
	Cfg     *config.Config
	Ledger  *LedgerService
	Users   *UserDirectory
	Ranking *RankingService
	Season  *SeasonService
	Recon   *Reconciler
	Intake  *IntakeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.WebhookEvent{},
		&models.FixedPointType{},
		&models.ScoreGrant{},
		&models.Season{},
		&models.SeasonResult{},
		&models.UserResult{},
		&models.Ranking{},
		&models.RankingResult{},
		&models.Coalition{},
		&models.User{},
		&models.CatchupJob{},
	))

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	cfg := &config.Config{
		SyncMode:          config.SyncModeDry,
		TestAccountLogins: []string{"test-account"},
	}

	ledger := NewLedgerService(db, log, cfg)
	users := NewUserDirectory(db, log, nil)
	ranking := NewRankingService(db, log, cfg, ledger)
	season := NewSeasonService(db, log, ranking, nil)
	ranking.Season = season
	recon := NewReconciler(db, log, cfg, nil, ledger, season)
	intake := NewIntakeService(db, log, cfg, ledger, users, recon)

	return &testEnv{
		DB:      db,
		Cfg:     cfg,
		Ledger:  ledger,
		Users:   users,
		Ranking: ranking,
		Season:  season,
		Recon:   recon,
		Intake:  intake,
	}
}

func (e *testEnv) seedPointType(t *testing.T, key string, amount int64) {
	t.Helper()
	require.NoError(t, e.DB.Create(&models.FixedPointType{Key: key, PointAmount: amount}).Error)
}

func (e *testEnv) seedCoalition(t *testing.T, id int64, name string) {
	t.Helper()
	require.NoError(t, e.DB.Create(&models.Coalition{ID: id, Name: name, Slug: strings.ToLower(name)}).Error)
}

func (e *testEnv) seedUser(t *testing.T, id int64, login string, coalitionID int64) *models.User {
	t.Helper()
	user := &models.User{ID: id, Login: login, CoalitionID: &coalitionID}
	require.NoError(t, e.DB.Create(user).Error)
	return user
}

func (e *testEnv) seedSeason(t *testing.T, begin, end time.Time) *models.Season {
	t.Helper()
	season := &models.Season{Name: "Test Season", BeginAt: begin, EndAt: end}
	require.NoError(t, e.DB.Create(season).Error)
	return season
}

// seedGrant inserts a grant with an explicit creation time, bypassing the
// service layer so tests can position grants inside season windows.
func (e *testEnv) seedGrant(t *testing.T, userID, coalitionID int64, typeKey string, amount int64, createdAt time.Time) {
	t.Helper()
	grant := &models.ScoreGrant{
		ID:           uuid.NewString(),
		Amount:       amount,
		FixedTypeKey: &typeKey,
		UserID:       userID,
		CoalitionID:  coalitionID,
		Reason:       "seed",
	}
	grant.CreatedAt = createdAt
	grant.UpdatedAt = createdAt
	require.NoError(t, e.DB.Create(grant).Error)
}

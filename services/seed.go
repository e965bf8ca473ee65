// services/seed.go
package services

import (
	"coalition-score-engine/models"

	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// defaultPointTypes is the initial scoring catalog. Admins retune the
// amounts afterwards; a zero amount disables the category.
var defaultPointTypes = []models.FixedPointType{
	{Key: models.TypeProject, Description: "Validated project", PointAmount: 1},
	{Key: models.TypeEvaluation, Description: "Filled peer evaluation", PointAmount: 20},
	{Key: models.TypeLogtime, Description: "Logged hour on campus", PointAmount: 10},
	{Key: models.TypeExam, Description: "Validated exam", PointAmount: 150},
	{Key: models.TypeIdleLogout, Description: "Idle logout penalty", PointAmount: -50},
	{Key: models.TypePointDonated, Description: "Point donated to the pool", PointAmount: 25},
	{Key: models.TypeEventBasic, Description: "Basic event participation", PointAmount: 0},
	{Key: models.TypeEventIntermediate, Description: "Intermediate event participation", PointAmount: 0},
	{Key: models.TypeEventAdvanced, Description: "Advanced event participation", PointAmount: 0},
	{Key: models.TypeRankingBonus, Description: "Hourly leaderboard bonus", PointAmount: 1},
}

// defaultRankings define the seeded leaderboards and which categories feed
// them. Keys are slugified from the display names.
var defaultRankings = []struct {
	name   string
	weekly int64
	types  []string
}{
	{"Overall", 1680, []string{models.TypeProject, models.TypeEvaluation, models.TypeLogtime, models.TypeExam, models.TypePointDonated}},
	{"Logtime", 336, []string{models.TypeLogtime}},
	{"Projects", 336, []string{models.TypeProject, models.TypeExam}},
	{"Evaluations", 336, []string{models.TypeEvaluation}},
}

// SeedDefaults creates any missing catalog entries and default rankings.
// Existing rows are left untouched so admin tuning survives restarts.
func SeedDefaults(db *gorm.DB, log *logrus.Logger) error {
	for _, ft := range defaultPointTypes {
		var existing models.FixedPointType
		err := db.Where("key = ?", ft.Key).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := db.Create(&ft).Error; err != nil {
				return err
			}
			log.Infof("🌱 Seeded point type %s (%d)", ft.Key, ft.PointAmount)
			continue
		}
		if err != nil {
			return err
		}
	}

	for _, def := range defaultRankings {
		key := slug.Make(def.name)
		var existing models.Ranking
		err := db.Where("key = ?", key).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		var types []models.FixedPointType
		if err := db.Where("key IN ?", def.types).Find(&types).Error; err != nil {
			return err
		}
		ranking := models.Ranking{
			Key:                key,
			Name:               def.name,
			BonusPointsPerWeek: def.weekly,
			FixedTypes:         types,
		}
		if err := db.Create(&ranking).Error; err != nil {
			return err
		}
		log.Infof("🌱 Seeded ranking %q (%d bonus points/week)", def.name, def.weekly)
	}
	return nil
}

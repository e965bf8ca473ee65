package models

import "time"

// Ranking defines a named leaderboard: which fixed point types feed it and
// how many bonus points per 168-hour week its current leaders receive during
// the final week of a season. LastBonusWatermark is the last fully processed
// hour boundary of the bonus sweep; persisting it after every hour makes the
// sweep resumable without double awards.
type Ranking struct {
	ID                 uint       `json:"id" gorm:"primaryKey"`
	Key                string     `json:"key" gorm:"uniqueIndex;not null"`
	Name               string     `json:"name" gorm:"not null"`
	BonusPointsPerWeek int64      `json:"bonus_points_per_week" gorm:"default:0"`
	Disabled           bool       `json:"disabled" gorm:"default:false"`
	LastBonusWatermark *time.Time `json:"last_bonus_watermark,omitempty"`

	FixedTypes []FixedPointType `json:"fixed_types,omitempty" gorm:"many2many:ranking_fixed_types"`

	Timestamps
}

func (Ranking) TableName() string {
	return "rankings"
}

// TypeKeys returns the keys of the fixed point types feeding this ranking.
func (r *Ranking) TypeKeys() []string {
	keys := make([]string, 0, len(r.FixedTypes))
	for _, t := range r.FixedTypes {
		keys = append(keys, t.Key)
	}
	return keys
}

package models

// Fixed point type keys. The catalog itself lives in the DB so admins can
// retune point amounts; the keys are the stable contract.
const (
	TypeProject           = "project"
	TypeEvaluation        = "evaluation"
	TypeLogtime           = "logtime"
	TypeExam              = "exam"
	TypeIdleLogout        = "idle_logout"
	TypePointDonated      = "point_donated"
	TypeEventBasic        = "event_basic"
	TypeEventIntermediate = "event_intermediate"
	TypeEventAdvanced     = "event_advanced"
	TypeRankingBonus      = "ranking_bonus"
)

// FixedPointType is one admin-configured scoring category.
// PointAmount == 0 disables the category: no grants of that type are created.
type FixedPointType struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Key         string `json:"key" gorm:"uniqueIndex;not null"`
	Description string `json:"description"`
	PointAmount int64  `json:"point_amount" gorm:"default:0"`

	Timestamps
}

func (FixedPointType) TableName() string {
	return "fixed_point_types"
}

// ScoreGrant is one signed point adjustment in the ledger.
//
// (UserID, FixedTypeKey, ExternalObjectID) is the natural idempotency key:
// when the platform re-reports the same external object, a new grant holding
// the delta against the prior sum is appended instead of mutating history.
// ExternalMirrorID holds the platform-side score id while the grant is
// mirrored; it must be nulled before any new mirror is created.
type ScoreGrant struct {
	ID               string  `json:"id" gorm:"primaryKey;type:uuid"`
	Amount           int64   `json:"amount" gorm:"not null"`
	FixedTypeKey     *string `json:"fixed_type_key,omitempty" gorm:"index:idx_grant_natural_key"`
	ExternalObjectID *int64  `json:"external_object_id,omitempty" gorm:"index:idx_grant_natural_key"`
	ExternalMirrorID *int64  `json:"external_mirror_id,omitempty"`
	UserID           int64   `json:"user_id" gorm:"index:idx_grant_natural_key;index"`
	CoalitionID      int64   `json:"coalition_id" gorm:"not null;index"`
	Reason           string  `json:"reason"`

	Timestamps
}

func (ScoreGrant) TableName() string {
	return "score_grants"
}

// Mirrored reports whether the grant currently has a live external mirror.
func (g *ScoreGrant) Mirrored() bool {
	return g.ExternalMirrorID != nil
}

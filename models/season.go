package models

import "time"

// Season is one competition window. Intervals are half-open [BeginAt, EndAt);
// at most one season is current at any instant. Grants belong to the season
// whose interval contains their CreatedAt.
type Season struct {
	ID                 uint       `json:"id" gorm:"primaryKey"`
	Name               string     `json:"name" gorm:"not null"`
	BeginAt            time.Time  `json:"begin_at" gorm:"not null;index"`
	EndAt              time.Time  `json:"end_at" gorm:"not null;index"`
	WinningCoalitionID *int64     `json:"winning_coalition_id,omitempty"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`

	Timestamps
}

func (Season) TableName() string {
	return "seasons"
}

// Contains reports whether t falls inside the season window.
func (s *Season) Contains(t time.Time) bool {
	return !t.Before(s.BeginAt) && t.Before(s.EndAt)
}

// SeasonResult is the frozen per-coalition outcome of an ended season.
// Write-once: rows are never mutated after close-out.
type SeasonResult struct {
	ID          uint  `json:"id" gorm:"primaryKey"`
	SeasonID    uint  `json:"season_id" gorm:"not null;index"`
	CoalitionID int64 `json:"coalition_id" gorm:"not null"`
	Rank        int   `json:"rank" gorm:"not null"`
	Score       int64 `json:"score" gorm:"not null"`

	Timestamps
}

func (SeasonResult) TableName() string {
	return "season_results"
}

// UserResult is the frozen per-user outcome of an ended season.
type UserResult struct {
	ID          uint  `json:"id" gorm:"primaryKey"`
	SeasonID    uint  `json:"season_id" gorm:"not null;index"`
	UserID      int64 `json:"user_id" gorm:"not null"`
	CoalitionID int64 `json:"coalition_id" gorm:"not null"`
	TotalPoints int64 `json:"total_points" gorm:"not null"`
	Rank        int   `json:"rank" gorm:"not null"`

	Timestamps
}

func (UserResult) TableName() string {
	return "user_results"
}

// RankingResult freezes one leaderboard placement at season end.
type RankingResult struct {
	ID        uint  `json:"id" gorm:"primaryKey"`
	SeasonID  uint  `json:"season_id" gorm:"not null;index"`
	RankingID uint  `json:"ranking_id" gorm:"not null;index"`
	UserID    int64 `json:"user_id" gorm:"not null"`
	Rank      int   `json:"rank" gorm:"not null"`
	Score     int64 `json:"score" gorm:"not null"`

	Timestamps
}

func (RankingResult) TableName() string {
	return "ranking_results"
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// HandledStatus is the outcome of processing one webhook delivery.
type HandledStatus string

const (
	StatusUnhandled      HandledStatus = "unhandled"
	StatusSkipped        HandledStatus = "skipped"
	StatusOk             HandledStatus = "ok"
	StatusError          HandledStatus = "error"
	StatusAlreadyHandled HandledStatus = "already_handled"
)

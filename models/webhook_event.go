package models

import "time"

// WebhookEvent is one inbound delivery from the campus platform.
// The row is inserted before the event is dispatched so that a concurrent
// duplicate delivery hits the unique index on DeliveryID and short-circuits.
// Immutable after creation except Status and HandledAt.
type WebhookEvent struct {
	ID         string        `json:"id" gorm:"primaryKey;type:uuid"`
	DeliveryID string        `json:"delivery_id" gorm:"uniqueIndex;not null"`
	ModelKind  string        `json:"model_kind" gorm:"not null;index"`
	EventKind  string        `json:"event_kind" gorm:"not null"`
	RawBody    []byte        `json:"raw_body" gorm:"type:bytes"`
	ReceivedAt time.Time     `json:"received_at" gorm:"not null"`
	HandledAt  *time.Time    `json:"handled_at,omitempty"`
	Status     HandledStatus `json:"status" gorm:"not null;default:'unhandled';index"`

	Timestamps
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

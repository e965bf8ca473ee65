package models

// Coalition mirrors one competing group from the campus platform.
// IDs are the platform's own ids, never locally generated.
type Coalition struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Name string `json:"name" gorm:"not null"`
	Slug string `json:"slug" gorm:"uniqueIndex"`

	Timestamps
}

func (Coalition) TableName() string {
	return "coalitions"
}

// User mirrors one platform user. A nil CoalitionID means the user has no
// group membership and is disqualified from scoring.
type User struct {
	ID          int64  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Login       string `json:"login" gorm:"uniqueIndex;not null"`
	IsStaff     bool   `json:"is_staff" gorm:"default:false"`
	CoalitionID *int64 `json:"coalition_id,omitempty" gorm:"index"`

	Timestamps
}

func (User) TableName() string {
	return "users"
}

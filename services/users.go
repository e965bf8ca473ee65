// services/users.go
package services

import (
	"context"
	"errors"
	"fmt"

	"coalition-score-engine/models"
	"coalition-score-engine/platform"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserDirectory maintains the local mirror of platform users and their
// coalition memberships. Rows are refreshed lazily the first time an event
// references an unknown user.
type UserDirectory struct {
	DB       *gorm.DB
	Log      *logrus.Logger
	Platform platform.API
}

func NewUserDirectory(db *gorm.DB, logger *logrus.Logger, api platform.API) *UserDirectory {
	return &UserDirectory{DB: db, Log: logger, Platform: api}
}

// Ensure returns the local user row, fetching and mirroring it from the
// platform when missing. Returns (nil, nil) when the platform does not know
// the user either, so callers can record a skip rather than an error.
func (d *UserDirectory) Ensure(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := d.DB.WithContext(ctx).First(&user, "id = ?", userID).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if d.Platform == nil {
		return nil, nil
	}

	info, err := d.Platform.FetchUser(ctx, userID)
	if err != nil {
		d.Log.Warnf("⚠️ Could not fetch user %d from platform: %v", userID, err)
		return nil, nil
	}
	return d.upsert(ctx, info)
}

func (d *UserDirectory) upsert(ctx context.Context, info *platform.UserInfo) (*models.User, error) {
	user := models.User{
		ID:      info.ID,
		Login:   info.Login,
		IsStaff: info.Staff,
	}
	if info.Coalition != nil {
		coalition := models.Coalition{
			ID:   info.Coalition.ID,
			Name: info.Coalition.Name,
			Slug: info.Coalition.Slug,
		}
		if err := d.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "slug", "updated_at"}),
		}).Create(&coalition).Error; err != nil {
			return nil, fmt.Errorf("upserting coalition %d: %w", coalition.ID, err)
		}
		user.CoalitionID = &info.Coalition.ID
	}

	if err := d.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"login", "is_staff", "coalition_id", "updated_at"}),
	}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("upserting user %d: %w", user.ID, err)
	}
	d.Log.Infof("👤 Mirrored user %s (coalition=%v)", user.Login, user.CoalitionID)
	return &user, nil
}

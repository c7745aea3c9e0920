package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.LoginAttempt{},
		&models.Session{},
		&models.AuditLog{},
		&models.CacheEntry{},
		&models.OrientationSession{},
	)
}

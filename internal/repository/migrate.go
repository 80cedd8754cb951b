package repository

import (
	"diagnosai/backend/internal/models"

	"gorm.io/gorm"
)

// Migrate creates or updates every table used by the service
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.AllModels()...)
}

package db

import (
	"fmt"

	"github.com/zulandar/huddle/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Candidate{},
		&models.Message{},
		&models.Notification{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedUsers upserts directory entries, keyed by ID.
func SeedUsers(db *gorm.DB, users []models.User) error {
	for _, u := range users {
		if u.ID == "" || u.Username == "" {
			return fmt.Errorf("db: seed user: id and username are required")
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "name", "email"}),
		}).Create(&u)
		if result.Error != nil {
			return fmt.Errorf("db: seed user %q: %w", u.Username, result.Error)
		}
	}
	return nil
}

// SeedCandidates upserts candidate records, keyed by ID.
func SeedCandidates(db *gorm.DB, candidates []models.Candidate) error {
	for _, c := range candidates {
		if c.ID == "" || c.Name == "" {
			return fmt.Errorf("db: seed candidate: id and name are required")
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email"}),
		}).Create(&c)
		if result.Error != nil {
			return fmt.Errorf("db: seed candidate %q: %w", c.ID, result.Error)
		}
	}
	return nil
}

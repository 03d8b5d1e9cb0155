package models

import "time"

// Candidate is the record a discussion thread belongs to. Candidates are
// managed elsewhere; this service only reads them for display names.
type Candidate struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;not null"`
	Email     string `gorm:"size:256"`
	CreatedBy string `gorm:"size:64"`
	CreatedAt time.Time
}

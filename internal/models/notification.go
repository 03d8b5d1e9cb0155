package models

import "time"

// Notification records that a user was tagged in a message. At most one
// row exists per (MessageID, UserID).
type Notification struct {
	ID          string    `gorm:"primaryKey;size:36"`
	UserID      string    `gorm:"size:64;not null;index:idx_user_created,priority:1;uniqueIndex:idx_message_user,priority:2"`
	MessageID   string    `gorm:"size:36;not null;uniqueIndex:idx_message_user,priority:1"`
	CandidateID string    `gorm:"size:64;not null"`
	Read        bool      `gorm:"default:false;index"`
	ReadAt      *time.Time
	CreatedAt   time.Time `gorm:"index:idx_user_created,priority:2"`

	Message Message `gorm:"foreignKey:MessageID"`
}

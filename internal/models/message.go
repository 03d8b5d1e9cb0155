package models

import (
	"encoding/json"
	"time"
)

// Message is a note posted to a candidate thread. Rows are append-only.
type Message struct {
	ID          string    `gorm:"primaryKey;size:36"`
	CandidateID string    `gorm:"size:64;not null;index:idx_candidate_created,priority:1"`
	SenderID    string    `gorm:"size:64;not null;uniqueIndex:idx_sender_client_key,priority:1"`
	Body        string    `gorm:"type:text;not null"`
	Tags        string    `gorm:"type:text"` // JSON array of recipient user IDs, in mention order
	ClientKey   *string   `gorm:"size:64;uniqueIndex:idx_sender_client_key,priority:2"`
	CreatedAt   time.Time `gorm:"index:idx_candidate_created,priority:2"`
}

// TagIDs decodes the Tags column. A malformed or empty column yields nil.
func (m *Message) TagIDs() []string {
	if m.Tags == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.Tags), &ids); err != nil {
		return nil
	}
	return ids
}

// SetTagIDs encodes ids into the Tags column.
func (m *Message) SetTagIDs(ids []string) {
	if ids == nil {
		ids = []string{}
	}
	data, _ := json.Marshal(ids)
	m.Tags = string(data)
}

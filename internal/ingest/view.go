package ingest

import (
	"time"

	"github.com/zulandar/huddle/internal/models"
)

// Sender is the denormalized author attached to a message view.
type Sender struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// MessageView is a message as clients see it.
type MessageView struct {
	ID          string    `json:"id"`
	CandidateID string    `json:"candidateId"`
	Sender      Sender    `json:"sender"`
	Body        string    `json:"body"`
	Tags        []string  `json:"tags"`
	ClientKey   string    `json:"clientKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Tagged is the payload pushed to a mentioned user's personal room.
type Tagged struct {
	Message     MessageView `json:"message"`
	CandidateID string      `json:"candidateId"`
	Preview     string      `json:"preview"`
}

// NewMessageView renders msg. A nil sender renders as the sender ID only.
func NewMessageView(msg *models.Message, sender *models.User) MessageView {
	v := MessageView{
		ID:          msg.ID,
		CandidateID: msg.CandidateID,
		Sender:      Sender{ID: msg.SenderID},
		Body:        msg.Body,
		Tags:        msg.TagIDs(),
		CreatedAt:   msg.CreatedAt,
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if msg.ClientKey != nil {
		v.ClientKey = *msg.ClientKey
	}
	if sender != nil {
		v.Sender.Name = sender.Name
		v.Sender.Email = sender.Email
		v.Sender.Username = sender.Username
	}
	return v
}

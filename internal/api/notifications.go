package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/huddle/internal/mention"
	"github.com/zulandar/huddle/internal/store"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

type candidateRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type notificationView struct {
	ID             string       `json:"id"`
	Candidate      candidateRef `json:"candidate"`
	CandidateID    string       `json:"candidateId"`
	MessageID      string       `json:"messageId"`
	MessagePreview string       `json:"messagePreview"`
	Read           bool         `json:"read"`
	CreatedAt      time.Time    `json:"createdAt"`
}

func handleNotifications(s Store, previewLen int) gin.HandlerFunc {
	if previewLen <= 0 {
		previewLen = mention.DefaultPreviewLength
	}
	return func(c *gin.Context) {
		limit := defaultNotificationLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxNotificationLimit)
		}

		ctx := c.Request.Context()
		notes, err := s.Notifications(ctx, currentUser(c), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load notifications"})
			return
		}

		ids := make([]string, 0, len(notes))
		for _, n := range notes {
			ids = append(ids, n.CandidateID)
		}
		names, err := s.CandidateNames(ctx, ids)
		if err != nil {
			names = map[string]string{}
		}

		views := make([]notificationView, 0, len(notes))
		for _, n := range notes {
			views = append(views, notificationView{
				ID:             n.ID,
				Candidate:      candidateRef{ID: n.CandidateID, Name: names[n.CandidateID]},
				CandidateID:    n.CandidateID,
				MessageID:      n.MessageID,
				MessagePreview: mention.Preview(n.Message.Body, previewLen),
				Read:           n.Read,
				CreatedAt:      n.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, views)
	}
}

func handleMarkRead(s Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := s.MarkRead(c.Request.Context(), currentUser(c), id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update notification"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "read": true})
	}
}

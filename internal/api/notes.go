package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/huddle/internal/ingest"
	"github.com/zulandar/huddle/internal/models"
	"github.com/zulandar/huddle/internal/session"
)

type postRequest struct {
	Body      string `json:"body"`
	ClientKey string `json:"clientKey"`
}

func handleHistory(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		msgs, err := store.ThreadHistory(ctx, c.Param("candidateId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load history"})
			return
		}

		senderIDs := make([]string, 0, len(msgs))
		seen := make(map[string]bool)
		for _, m := range msgs {
			if !seen[m.SenderID] {
				seen[m.SenderID] = true
				senderIDs = append(senderIDs, m.SenderID)
			}
		}
		senders, err := store.UsersByID(ctx, senderIDs)
		if err != nil {
			senders = map[string]models.User{}
		}

		views := make([]ingest.MessageView, 0, len(msgs))
		for i := range msgs {
			var sender *models.User
			if u, ok := senders[msgs[i].SenderID]; ok {
				sender = &u
			}
			views = append(views, ingest.NewMessageView(&msgs[i], sender))
		}
		c.JSON(http.StatusOK, views)
	}
}

func handlePost(pipeline session.Poster) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req postRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		res, err := pipeline.Post(c.Request.Context(), ingest.Post{
			CandidateID: c.Param("candidateId"),
			SenderID:    currentUser(c),
			Body:        req.Body,
			ClientKey:   req.ClientKey,
			Source:      ingest.SourceREST,
		})
		switch {
		case err == nil:
		case errors.Is(err, ingest.ErrEmptyBody), errors.Is(err, ingest.ErrInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "message could not be saved"})
			return
		}

		if res.Duplicate {
			c.JSON(http.StatusOK, res.Message)
			return
		}
		c.JSON(http.StatusCreated, res.Message)
	}
}

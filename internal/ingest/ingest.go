// Package ingest is the single path by which a message enters the system:
// validate, sanitize, resolve mentions, persist, then fan out.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/zulandar/huddle/internal/mention"
	"github.com/zulandar/huddle/internal/metrics"
	"github.com/zulandar/huddle/internal/models"
	"github.com/zulandar/huddle/internal/relay"
	"github.com/zulandar/huddle/internal/room"
)

var (
	// ErrEmptyBody is returned when a body is empty after trimming or
	// sanitizing.
	ErrEmptyBody = errors.New("ingest: message body is empty")
	// ErrInvalid is returned for other malformed posts.
	ErrInvalid = errors.New("ingest: invalid post")
	// ErrPersistence is returned when the message could not be stored.
	ErrPersistence = errors.New("ingest: persistence failed")
)

// Event names pushed to clients.
const (
	EventNewMessage = "newMessage"
	EventTagged     = "tagged"
)

// Post sources, used as a metrics label.
const (
	SourceREST   = "rest"
	SourceSocket = "socket"
)

const (
	maxIDLength        = 64
	maxClientKeyLength = 64
	fanoutTimeout      = 5 * time.Second
)

// Recorder persists a message and its notifications atomically.
type Recorder interface {
	RecordMessage(ctx context.Context, msg *models.Message, recipients []string) (*models.Message, bool, error)
}

// Resolver maps mention tokens in a body to users.
type Resolver interface {
	Resolve(ctx context.Context, text string) []models.User
}

// Users looks up senders for denormalization.
type Users interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
}

// Post is one request to create a message.
type Post struct {
	CandidateID string
	SenderID    string
	Body        string
	ClientKey   string // optional; repeats with the same key are deduplicated
	Source      string // SourceREST or SourceSocket
}

// Result describes a processed post.
type Result struct {
	Message   MessageView
	Duplicate bool
	Tagged    []string // recipient user IDs, in mention order
}

// Pipeline creates messages.
type Pipeline struct {
	store      Recorder
	resolver   Resolver
	users      Users
	fanout     relay.Fanout
	previewLen int
	log        zerolog.Logger
}

// PipelineOpts holds parameters for creating a Pipeline.
type PipelineOpts struct {
	Store         Recorder
	Resolver      Resolver
	Users         Users
	Fanout        relay.Fanout
	PreviewLength int // defaults to mention.DefaultPreviewLength
	Logger        zerolog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ingest: store is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("ingest: resolver is required")
	}
	if opts.Users == nil {
		return nil, fmt.Errorf("ingest: users is required")
	}
	if opts.Fanout == nil {
		return nil, fmt.Errorf("ingest: fanout is required")
	}
	previewLen := opts.PreviewLength
	if previewLen <= 0 {
		previewLen = mention.DefaultPreviewLength
	}
	return &Pipeline{
		store:      opts.Store,
		resolver:   opts.Resolver,
		users:      opts.Users,
		fanout:     opts.Fanout,
		previewLen: previewLen,
		log:        opts.Logger,
	}, nil
}

// Post validates and stores p, then delivers newMessage to the thread room
// and tagged to each mentioned user's room. Nothing is delivered unless the
// message was stored. A repeated ClientKey returns the stored message with
// Duplicate set and delivers nothing.
func (pl *Pipeline) Post(ctx context.Context, p Post) (*Result, error) {
	source := p.Source
	if source == "" {
		source = SourceREST
	}

	body, err := validate(p)
	if err != nil {
		metrics.PostFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	body = strings.TrimSpace(mention.Sanitize(body))
	if body == "" {
		metrics.PostFailures.WithLabelValues("validation").Inc()
		return nil, ErrEmptyBody
	}

	users := pl.resolver.Resolve(ctx, body)
	recipients := make([]string, 0, len(users))
	for _, u := range users {
		recipients = append(recipients, u.ID)
	}

	msg := &models.Message{
		CandidateID: p.CandidateID,
		SenderID:    p.SenderID,
		Body:        body,
	}
	if p.ClientKey != "" {
		key := p.ClientKey
		msg.ClientKey = &key
	}

	saved, duplicate, err := pl.store.RecordMessage(ctx, msg, recipients)
	if err != nil {
		metrics.PostFailures.WithLabelValues("persistence").Inc()
		pl.log.Error().Err(err).
			Str("candidate", p.CandidateID).
			Str("sender", p.SenderID).
			Msg("ingest: record message failed")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// The message is durable; the remaining work must not be cut short by
	// the caller going away.
	ctx = context.WithoutCancel(ctx)

	view := NewMessageView(saved, pl.sender(ctx, saved.SenderID))
	res := &Result{Message: view, Duplicate: duplicate, Tagged: saved.TagIDs()}
	if duplicate {
		pl.log.Debug().
			Str("message", saved.ID).
			Str("client_key", p.ClientKey).
			Msg("ingest: duplicate post")
		return res, nil
	}

	metrics.MessagesPosted.WithLabelValues(source).Inc()
	metrics.NotificationsCreated.Add(float64(len(recipients)))
	pl.log.Info().
		Str("message", saved.ID).
		Str("candidate", saved.CandidateID).
		Str("sender", saved.SenderID).
		Int("tags", len(recipients)).
		Str("source", source).
		Msg("ingest: message posted")

	pl.deliver(ctx, view)
	return res, nil
}

func validate(p Post) (string, error) {
	body := strings.TrimSpace(p.Body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if !utf8.ValidString(body) {
		return "", fmt.Errorf("%w: body is not valid UTF-8", ErrInvalid)
	}
	if err := checkID("candidate id", p.CandidateID); err != nil {
		return "", err
	}
	if err := checkID("sender id", p.SenderID); err != nil {
		return "", err
	}
	if len(p.ClientKey) > maxClientKeyLength {
		return "", fmt.Errorf("%w: client key longer than %d bytes", ErrInvalid, maxClientKeyLength)
	}
	return body, nil
}

func checkID(name, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, name)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalid, name, maxIDLength)
	}
	return nil
}

// sender loads the author for display. Failures degrade to an ID-only view.
func (pl *Pipeline) sender(ctx context.Context, id string) *models.User {
	u, err := pl.users.UserByID(ctx, id)
	if err != nil {
		pl.log.Debug().Err(err).Str("sender", id).Msg("ingest: sender lookup failed")
		return nil
	}
	return u
}

func (pl *Pipeline) deliver(ctx context.Context, view MessageView) {
	ctx, cancel := context.WithTimeout(ctx, fanoutTimeout)
	defer cancel()

	if err := pl.fanout.Publish(ctx, room.Thread(view.CandidateID), room.Event{
		Name: EventNewMessage,
		Data: view,
	}); err != nil {
		pl.log.Warn().Err(err).Str("message", view.ID).Msg("ingest: newMessage fan-out failed")
	}

	if len(view.Tags) == 0 {
		return
	}
	tagged := Tagged{
		Message:     view,
		CandidateID: view.CandidateID,
		Preview:     mention.Preview(view.Body, pl.previewLen),
	}
	for _, userID := range view.Tags {
		if err := pl.fanout.Publish(ctx, room.User(userID), room.Event{
			Name: EventTagged,
			Data: tagged,
		}); err != nil {
			pl.log.Warn().Err(err).Str("message", view.ID).Str("user", userID).Msg("ingest: tagged fan-out failed")
		}
	}
}

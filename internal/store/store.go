// Package store persists messages and notifications and serves the
// identity directory used for mention resolution.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/huddle/internal/models"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Directory resolves user identities. Username matches are exact and
// case-sensitive.
type Directory interface {
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
}

// Store is the GORM-backed persistence store.
type Store struct {
	db      *gorm.DB
	lookups singleflight.Group
}

// New creates a Store over an open, migrated database.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// NewID returns a time-ordered identifier for a new row.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RecordMessage persists msg together with one notification per recipient
// in a single transaction. ID and CreatedAt are assigned when empty.
//
// When msg carries a ClientKey that the sender has already used, the
// original message is returned with duplicate set and nothing is written.
func (s *Store) RecordMessage(ctx context.Context, msg *models.Message, recipients []string) (saved *models.Message, duplicate bool, err error) {
	if msg == nil {
		return nil, false, fmt.Errorf("store: record message: message is required")
	}
	if msg.ClientKey != nil {
		existing, err := s.messageByClientKey(ctx, msg.SenderID, *msg.ClientKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.SetTagIDs(recipients)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			return err
		}
		_, err := insertNotifications(tx, msg, recipients)
		return err
	})
	if err != nil {
		// A concurrent retry with the same client key won the race.
		if errors.Is(err, gorm.ErrDuplicatedKey) && msg.ClientKey != nil {
			existing, ferr := s.messageByClientKey(ctx, msg.SenderID, *msg.ClientKey)
			if ferr == nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("store: record message: %w", err)
	}
	return msg, false, nil
}

// insertNotifications writes one row per recipient, skipping pairs that
// already exist.
func insertNotifications(tx *gorm.DB, msg *models.Message, recipients []string) (int64, error) {
	var created int64
	for _, userID := range recipients {
		n := models.Notification{
			ID:          NewID(),
			UserID:      userID,
			MessageID:   msg.ID,
			CandidateID: msg.CandidateID,
			CreatedAt:   msg.CreatedAt,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Omit(clause.Associations).Create(&n)
		if result.Error != nil {
			return created, fmt.Errorf("notify %s: %w", userID, result.Error)
		}
		created += result.RowsAffected
	}
	return created, nil
}

func (s *Store) messageByClientKey(ctx context.Context, senderID, key string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("sender_id = ? AND client_key = ?", senderID, key).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: message by client key: %w", err)
	}
	return &msg, nil
}

// ThreadHistory returns a candidate thread's messages, oldest first.
func (s *Store) ThreadHistory(ctx context.Context, candidateID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Where("candidate_id = ?", candidateID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: thread history %s: %w", candidateID, err)
	}
	return msgs, nil
}

// Notifications returns a user's notifications newest first, with the
// referenced message preloaded. A non-positive limit returns all rows.
func (s *Store) Notifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	q := s.db.WithContext(ctx).
		Preload("Message").
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var notes []models.Notification
	if err := q.Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("store: notifications %s: %w", userID, err)
	}
	return notes, nil
}

// CountNotifications returns how many notifications reference messageID.
func (s *Store) CountNotifications(ctx context.Context, messageID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("message_id = ?", messageID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("store: count notifications %s: %w", messageID, err)
	}
	return n, nil
}

// MarkRead flags one of userID's notifications as read. Marking an
// already-read notification is a no-op.
func (s *Store) MarkRead(ctx context.Context, userID, notificationID string) error {
	var n models.Notification
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: mark read %s: %w", notificationID, err)
	}
	if n.Read {
		return nil
	}
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", notificationID).
		Updates(map[string]interface{}{"read": true, "read_at": now}).Error; err != nil {
		return fmt.Errorf("store: mark read %s: %w", notificationID, err)
	}
	return nil
}

// PurgeRead deletes read notifications created before cutoff and returns
// the number removed. Unread notifications are kept regardless of age.
func (s *Store) PurgeRead(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("`read` = ? AND created_at < ?", true, cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("store: purge read notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CandidateNames maps candidate IDs to display names. Unknown IDs are
// absent from the result.
func (s *Store) CandidateNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var rows []models.Candidate
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: candidate names: %w", err)
	}
	for _, c := range rows {
		names[c.ID] = c.Name
	}
	return names, nil
}

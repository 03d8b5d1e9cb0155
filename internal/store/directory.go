package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/huddle/internal/models"
	"gorm.io/gorm"
)

// sharedLookupTimeout bounds a coalesced username query independently of
// the caller that started it.
const sharedLookupTimeout = 10 * time.Second

// UserByUsername looks up a user by exact, case-sensitive username.
// Concurrent lookups of the same username share one query; each caller
// still returns as soon as its own ctx is done.
func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	ch := s.lookups.DoChan("username:"+username, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		var u models.User
		err := s.db.WithContext(qctx).
			Where("username = ?", username).
			First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("store: user by username %q: %w", username, err)
		}
		// Some collations compare case-insensitively.
		if u.Username != username {
			return nil, ErrNotFound
		}
		return &u, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("store: user by username %q: %w", username, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		u := *res.Val.(*models.User)
		return &u, nil
	}
}

// UserByID looks up a user by ID.
func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: user %s: %w", id, err)
	}
	return &u, nil
}

// UsersByID loads several users at once, keyed by ID. Unknown IDs are
// absent from the result.
func (s *Store) UsersByID(ctx context.Context, ids []string) (map[string]models.User, error) {
	users := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	var rows []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: users by id: %w", err)
	}
	for _, u := range rows {
		users[u.ID] = u
	}
	return users, nil
}

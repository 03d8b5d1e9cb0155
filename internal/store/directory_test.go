package store

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestUserByUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		wantID   string
		wantErr  error
	}{
		{name: "exact match", username: "alice", wantID: "u-alice"},
		{name: "case differs", username: "Alice", wantErr: ErrNotFound},
		{name: "unknown", username: "carol", wantErr: ErrNotFound},
		{name: "empty", username: "", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := s.UserByUsername(ctx, tt.username)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", u.ID, tt.wantID)
			}
		})
	}
}

func TestUserByUsername_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := s.UserByUsername(ctx, "bob")
			if err != nil {
				t.Errorf("lookup: %v", err)
				return
			}
			// Callers must not share a mutable result.
			u.Name = "mutated"
		}()
	}
	wg.Wait()

	u, err := s.UserByUsername(ctx, "bob")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if u.Name != "Bob" {
		t.Errorf("Name = %q, want %q", u.Name, "Bob")
	}
}

func TestUserByUsername_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either the shared query or the cancelled context may win the race;
	// a cancelled caller must never see a hard failure other than ctx.Err.
	_, err := s.UserByUsername(ctx, "alice")
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want nil or context.Canceled", err)
	}
}

func TestUserByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.UserByID(ctx, "u-alice")
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("Username = %q, want alice", u.Username)
	}
	if _, err := s.UserByID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestUsersByID(t *testing.T) {
	s := newTestStore(t)
	users, err := s.UsersByID(context.Background(), []string{"u-alice", "u-bob", "ghost"})
	if err != nil {
		t.Fatalf("UsersByID: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("len(users) = %d, want 2", len(users))
	}
	if users["u-bob"].Name != "Bob" {
		t.Errorf("users[u-bob].Name = %q", users["u-bob"].Name)
	}
}

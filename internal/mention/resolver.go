package mention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/huddle/internal/models"
	"github.com/zulandar/huddle/internal/store"
	"golang.org/x/sync/errgroup"
)

// DefaultLookupTimeout bounds each directory lookup when none is configured.
const DefaultLookupTimeout = 2 * time.Second

// maxParallelLookups caps concurrent directory queries per message.
const maxParallelLookups = 8

// Directory is the subset of the identity directory the resolver needs.
type Directory interface {
	UserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Resolver maps mention tokens to known users.
type Resolver struct {
	dir     Directory
	timeout time.Duration
	log     zerolog.Logger
}

// ResolverOpts holds parameters for creating a Resolver.
type ResolverOpts struct {
	Directory     Directory
	LookupTimeout time.Duration // defaults to DefaultLookupTimeout
	Logger        zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(opts ResolverOpts) (*Resolver, error) {
	if opts.Directory == nil {
		return nil, fmt.Errorf("mention: directory is required")
	}
	timeout := opts.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Resolver{
		dir:     opts.Directory,
		timeout: timeout,
		log:     opts.Logger,
	}, nil
}

// Resolve returns the users mentioned in text, de-duplicated by ID, in
// order of first mention. Unknown usernames, failed lookups and lookups
// exceeding the timeout are dropped; Resolve itself never fails.
func (r *Resolver) Resolve(ctx context.Context, text string) []models.User {
	names := Parse(text)
	if len(names) == 0 {
		return nil
	}

	found := make([]*models.User, len(names))
	g := new(errgroup.Group)
	g.SetLimit(maxParallelLookups)
	for i, name := range names {
		g.Go(func() error {
			found[i] = r.lookup(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool, len(found))
	users := make([]models.User, 0, len(found))
	for _, u := range found {
		if u == nil || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		users = append(users, *u)
	}
	return users
}

func (r *Resolver) lookup(ctx context.Context, username string) *models.User {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	u, err := r.dir.UserByUsername(lctx, username)
	switch {
	case err == nil:
		return u
	case errors.Is(err, store.ErrNotFound):
		r.log.Debug().Str("username", username).Msg("mention: unknown user")
	case errors.Is(err, context.DeadlineExceeded):
		r.log.Warn().Str("username", username).Dur("timeout", r.timeout).Msg("mention: lookup timed out")
	default:
		r.log.Warn().Err(err).Str("username", username).Msg("mention: lookup failed")
	}
	return nil
}

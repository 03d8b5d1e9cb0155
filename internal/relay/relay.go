// Package relay carries room events from the process that produced them to
// every process holding live connections.
package relay

import (
	"context"

	"github.com/zulandar/huddle/internal/room"
)

// Fanout publishes an event to a room. Delivery is best-effort.
type Fanout interface {
	Publish(ctx context.Context, id room.ID, ev room.Event) error
}

// Local delivers straight into a single process's registry.
type Local struct {
	reg *room.Registry
}

// NewLocal creates a Local fan-out over reg.
func NewLocal(reg *room.Registry) *Local {
	return &Local{reg: reg}
}

// Publish broadcasts ev to the members of id.
func (l *Local) Publish(_ context.Context, id room.ID, ev room.Event) error {
	l.reg.Broadcast(id, ev)
	return nil
}

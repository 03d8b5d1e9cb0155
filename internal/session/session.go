// Package session runs one websocket connection: it authenticates the user
// into their personal room, applies client events, and writes room events
// back out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zulandar/huddle/internal/ingest"
	"github.com/zulandar/huddle/internal/metrics"
	"github.com/zulandar/huddle/internal/room"
)

// Defaults used when Opts leaves a field zero.
const (
	DefaultSendBuffer      = 64
	DefaultWriteWait       = 10 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultMaxMessageBytes = 8192
)

// Poster accepts messages on behalf of the session's user.
type Poster interface {
	Post(ctx context.Context, p ingest.Post) (*ingest.Result, error)
}

// Opts holds parameters for creating a Session.
type Opts struct {
	Conn            *websocket.Conn
	UserID          string
	Registry        *room.Registry
	Pipeline        Poster
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration // defaults to 9/10 of PongWait
	MaxMessageBytes int64
	Logger          zerolog.Logger
}

// Session is one authenticated connection. It is a room.Subscriber.
type Session struct {
	id       string
	userID   string
	conn     *websocket.Conn
	reg      *room.Registry
	pipeline Poster

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	maxBytes   int64

	send      chan room.Event
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	state State

	log zerolog.Logger
}

// New creates a Session for a connection whose credentials were already
// verified.
func New(opts Opts) (*Session, error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("session: conn is required")
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("session: user id is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("session: registry is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("session: pipeline is required")
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultWriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = DefaultPongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		userID:     opts.UserID,
		conn:       opts.Conn,
		reg:        opts.Registry,
		pipeline:   opts.Pipeline,
		writeWait:  opts.WriteWait,
		pongWait:   opts.PongWait,
		pingPeriod: opts.PingPeriod,
		maxBytes:   opts.MaxMessageBytes,
		send:       make(chan room.Event, opts.SendBuffer),
		done:       make(chan struct{}),
		state:      StateUnauthenticated,
		log:        opts.Logger.With().Str("session", id).Str("user", opts.UserID).Logger(),
	}, nil
}

// ID returns the session's connection identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user.
func (s *Session) UserID() string { return s.userID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deliver queues ev for the client without blocking. It returns false when
// the outbound buffer is full or the session has closed.
func (s *Session) Deliver(ev room.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- ev:
		return true
	default:
		s.log.Debug().Str("event", ev.Name).Msg("session: outbound buffer full")
		return false
	}
}

// frame is an inbound client event.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Run serves the connection until the client disconnects or ctx is
// cancelled. The session is always removed from every room on return.
func (s *Session) Run(ctx context.Context) {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	var wg sync.WaitGroup
	defer func() {
		s.shutdown()
		wg.Wait()
		s.reg.Drop(s)
		s.log.Info().Msg("session: closed")
	}()

	s.apply(ctx, Authenticated{UserID: s.userID})
	s.log.Info().Msg("session: authenticated")

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump()
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-s.done:
		}
	}()

	s.conn.SetReadLimit(s.maxBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Warn().Err(err).Msg("session: read failed")
			}
			s.apply(ctx, Closed{})
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			s.reply(Reply{Code: CodeInvalidPayload, Message: "frames must be {\"event\", \"data\"} objects"})
			continue
		}
		s.apply(ctx, Inbound{Event: f.Event, Data: f.Data})
	}
}

// apply runs one transition and its effects in order.
func (s *Session) apply(ctx context.Context, in Input) {
	s.mu.Lock()
	next, effects := Transition(s.state, in)
	s.state = next
	s.mu.Unlock()

	for _, eff := range effects {
		switch eff := eff.(type) {
		case Join:
			s.reg.Join(eff.Room, s)
			s.log.Debug().Str("room", string(eff.Room)).Msg("session: joined")
		case Leave:
			s.reg.Leave(eff.Room, s)
			s.log.Debug().Str("room", string(eff.Room)).Msg("session: left")
		case PostMessage:
			s.post(ctx, eff)
		case Reply:
			s.reply(eff)
		case Drop:
			s.reg.Drop(s)
		case Close:
			s.shutdown()
		}
	}
}

func (s *Session) post(ctx context.Context, p PostMessage) {
	_, err := s.pipeline.Post(ctx, ingest.Post{
		CandidateID: p.CandidateID,
		SenderID:    s.userID,
		Body:        p.Content,
		ClientKey:   p.ClientKey,
		Source:      ingest.SourceSocket,
	})
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, ingest.ErrEmptyBody):
		s.reply(Reply{Code: CodeEmptyBody, Message: "message content is empty"})
	case errors.Is(err, ingest.ErrInvalid):
		s.reply(Reply{Code: CodeInvalid, Message: err.Error()})
	default:
		s.reply(Reply{Code: CodePersistence, Message: "message could not be saved"})
	}
}

func (s *Session) reply(r Reply) {
	s.Deliver(room.Event{Name: EventError, Data: r})
}

// shutdown stops the writer and closes the transport. Safe to call more
// than once.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump is the connection's only writer.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("session: write failed")
				s.shutdown()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown()
				return
			}
		}
	}
}

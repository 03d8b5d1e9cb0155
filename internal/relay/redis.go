package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/zulandar/huddle/internal/room"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "huddle:rooms"

// envelope is the wire form of a relayed event.
type envelope struct {
	Room  room.ID         `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encode(id room.ID, ev room.Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("relay: encode %s: %w", ev.Name, err)
	}
	return json.Marshal(envelope{Room: id, Event: ev.Name, Data: data})
}

func decode(payload []byte) (room.ID, room.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", room.Event{}, fmt.Errorf("relay: decode: %w", err)
	}
	if env.Room == "" || env.Event == "" {
		return "", room.Event{}, fmt.Errorf("relay: decode: room and event are required")
	}
	return env.Room, room.Event{Name: env.Event, Data: env.Data}, nil
}

// Redis publishes events on a Redis channel and rebroadcasts everything
// received on it into the local registry, so every server process behind
// a load balancer reaches its own connections.
type Redis struct {
	client  *redis.Client
	channel string
	reg     *room.Registry
	log     zerolog.Logger
}

// RedisOpts holds parameters for creating a Redis relay.
type RedisOpts struct {
	URL      string
	Channel  string // defaults to DefaultChannel
	Registry *room.Registry
	Logger   zerolog.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOpts) (*Redis, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("relay: redis url is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("relay: registry is required")
	}
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("relay: parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("relay: ping redis: %w", err)
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		reg:     opts.Registry,
		log:     opts.Logger,
	}, nil
}

// Publish sends ev for id to every subscribed process, this one included.
// When Redis is unreachable the event still reaches local members, and the
// publish error is returned for the caller to report.
func (r *Redis) Publish(ctx context.Context, id room.ID, ev room.Event) error {
	payload, err := encode(id, ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.reg.Broadcast(id, ev)
		return fmt.Errorf("relay: publish %s (delivered locally only): %w", id, err)
	}
	return nil
}

// Run subscribes to the channel and rebroadcasts incoming events until ctx
// is cancelled.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("relay: subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id, ev, err := decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn().Err(err).Msg("relay: dropping malformed envelope")
				continue
			}
			r.reg.Broadcast(id, ev)
		}
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

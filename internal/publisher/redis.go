package publisher

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/rewired-gh/crowdcast/internal/models"
)

// redisClient is the subset of *redis.Client used by Redis.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis publishes each location's labels on a channel and caches the latest
// payload under "<prefix>:<location>".
type Redis struct {
	client  redisClient
	channel string
	prefix  string
	ttl     time.Duration
}

// NewRedis connects to the server at url (redis://host:port/db) and verifies
// the connection.
func NewRedis(ctx context.Context, url, channel, prefix string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "publisher: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "publisher: ping redis")
	}
	return newRedis(client, channel, prefix, ttl), nil
}

func newRedis(client redisClient, channel, prefix string, ttl time.Duration) *Redis {
	if channel == "" {
		channel = "crowdcast:congestion"
	}
	if prefix == "" {
		prefix = "crowdcast:congestion"
	}
	return &Redis{client: client, channel: channel, prefix: prefix, ttl: ttl}
}

// Key returns the cache key of a location.
func (r *Redis) Key(locationID string) string {
	return r.prefix + ":" + locationID
}

// Publish caches the payload and then publishes it.
func (r *Redis) Publish(ctx context.Context, profile models.LocationProfile, records []models.CongestionRecord) error {
	data, err := encode(profile, records)
	if err != nil {
		return eris.Wrap(err, "publisher: encode message")
	}
	if err := r.client.Set(ctx, r.Key(profile.ID), data, r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "publisher: cache labels for %s", profile.ID)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return eris.Wrapf(err, "publisher: publish labels for %s", profile.ID)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

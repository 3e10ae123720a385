// Package presence tracks which users currently have a document open. Each
// open viewer heartbeats a TTL key; a viewer that stops heartbeating simply
// expires.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "inkwell:viewers:"
	defaultTTL = 45 * time.Second
)

// Viewer is one active document viewer.
type Viewer struct {
	UserID      string
	DisplayName string
}

// TrackerConfig configures the presence tracker.
type TrackerConfig struct {
	RedisURL string
	TTL      time.Duration
}

// Tracker records viewer heartbeats in Redis.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTracker parses the URL, connects, and verifies the connection.
func NewTracker(ctx context.Context, cfg TrackerConfig) (*Tracker, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, errors.New("presence: redis url is required")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("presence: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("presence: connect to redis: %w", err)
	}

	return NewTrackerWithClient(client, cfg.TTL), nil
}

// NewTrackerWithClient wraps an existing client, mainly for tests.
func NewTrackerWithClient(client *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Tracker{client: client, ttl: ttl}
}

func viewerKey(documentID, userID string) string {
	return keyPrefix + documentID + ":" + userID
}

// Heartbeat marks the user as viewing the document and renews the TTL.
func (t *Tracker) Heartbeat(ctx context.Context, documentID, userID, displayName string) error {
	if documentID == "" || userID == "" {
		return errors.New("presence: document id and user id are required")
	}
	if err := t.client.Set(ctx, viewerKey(documentID, userID), displayName, t.ttl).Err(); err != nil {
		return fmt.Errorf("presence: record heartbeat: %w", err)
	}
	return nil
}

// Leave removes the viewer immediately instead of waiting for expiry.
func (t *Tracker) Leave(ctx context.Context, documentID, userID string) error {
	if err := t.client.Del(ctx, viewerKey(documentID, userID)).Err(); err != nil {
		return fmt.Errorf("presence: remove viewer: %w", err)
	}
	return nil
}

// ActiveViewers returns everyone with an unexpired heartbeat on the document.
func (t *Tracker) ActiveViewers(ctx context.Context, documentID string) ([]Viewer, error) {
	if documentID == "" {
		return nil, errors.New("presence: document id is required")
	}

	pattern := keyPrefix + documentID + ":*"
	prefix := keyPrefix + documentID + ":"

	var viewers []Viewer
	iter := t.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		displayName, err := t.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("presence: read viewer: %w", err)
		}
		viewers = append(viewers, Viewer{
			UserID:      strings.TrimPrefix(key, prefix),
			DisplayName: displayName,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence: scan viewers: %w", err)
	}
	return viewers, nil
}

// Close releases the underlying connection.
func (t *Tracker) Close() error {
	return t.client.Close()
}

package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// DecisionCache keeps accepted decisions so an install asking again before
// its URL expires gets the same answer.
type DecisionCache interface {
	Get(ctx context.Context, bundleID, attributionID string) (Decision, bool, error)
	Put(ctx context.Context, bundleID, attributionID string, d Decision) error
}

type cachedDecision struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at_ms"`
}

// RedisCache stores decisions under {prefix}{bundle}:{af_id} with a TTL
// matching the decision expiry.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisCache wraps client. An empty prefix uses "appgate:decision:".
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "appgate:decision:"
	}
	return &RedisCache{client: client, prefix: prefix, now: time.Now}
}

// NewRedisClient connects to Redis and pings it once.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(bundleID, attributionID string) string {
	return c.prefix + bundleID + ":" + attributionID
}

// Get returns the cached decision. A miss or an entry past its expiry
// returns false.
func (c *RedisCache) Get(ctx context.Context, bundleID, attributionID string) (Decision, bool, error) {
	raw, err := c.client.Get(ctx, c.key(bundleID, attributionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("redis get: %w", err)
	}

	var cd cachedDecision
	if err := json.Unmarshal(raw, &cd); err != nil {
		return Decision{}, false, fmt.Errorf("decode cached decision: %w", err)
	}

	expires := time.UnixMilli(cd.ExpiresAt)
	if !expires.After(c.now()) {
		return Decision{}, false, nil
	}

	return Decision{
		ID:        cd.ID,
		Outcome:   OutcomeWebview,
		Status:    http.StatusOK,
		URL:       cd.URL,
		ExpiresAt: expires,
		Cached:    true,
	}, true, nil
}

// Put stores d until its expiry. Decisions already expired are skipped.
func (c *RedisCache) Put(ctx context.Context, bundleID, attributionID string, d Decision) error {
	ttl := d.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(cachedDecision{
		ID:        d.ID,
		URL:       d.URL,
		ExpiresAt: d.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	if err := c.client.Set(ctx, c.key(bundleID, attributionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

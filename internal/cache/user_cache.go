package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"authorization-service/internal/models"
	"authorization-service/internal/services"
	"github.com/Tesseract-Nexus/go-shared/secrets"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "authz:users"

// UserCache caches user directory lookups in Redis. With a nil client every
// call goes straight to the wrapped directory.
type UserCache struct {
	client *redis.Client
	next   services.UserDirectory
	ttl    time.Duration
	logger *logrus.Entry
}

var _ services.UserDirectory = (*UserCache)(nil)

// NewUserCache wraps next with a Redis read-through cache
func NewUserCache(client *redis.Client, next services.UserDirectory, ttl time.Duration, logger *logrus.Logger) *UserCache {
	return &UserCache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger.WithField("component", "user-cache"),
	}
}

// Connect parses redisURL and pings the server. It returns a nil client
// when the URL is empty or the server is unreachable, so callers degrade to
// no caching.
func Connect(redisURL string, logger *logrus.Logger) *redis.Client {
	if redisURL == "" {
		logger.Info("REDIS_URL not configured, user cache disabled")
		return nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.WithError(err).Warn("failed to parse Redis URL, continuing without user cache")
		return nil
	}
	if opt.Password == "" {
		opt.Password = secrets.GetRedisPassword()
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("failed to connect to Redis, continuing without user cache")
		_ = client.Close()
		return nil
	}
	logger.Info("connected to Redis for user cache")
	return client
}

func roleKey(roles []models.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s:role:%s", keyPrefix, strings.Join(names, ","))
}

func userKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:id:%s", keyPrefix, id)
}

// GetUsersByRole returns cached users for roles, loading them on a miss
func (c *UserCache) GetUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error) {
	key := roleKey(roles)
	var users []models.User
	if c.load(ctx, key, &users) {
		return users, nil
	}

	users, err := c.next.GetUsersByRole(ctx, roles)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, users)
	return users, nil
}

// GetUser returns a cached user, loading it on a miss
func (c *UserCache) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	key := userKey(id)
	var user models.User
	if c.load(ctx, key, &user) {
		return &user, nil
	}

	loaded, err := c.next.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, loaded)
	return loaded, nil
}

// Invalidate drops every cached lookup
func (c *UserCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, keyPrefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Close closes the Redis connection
func (c *UserCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *UserCache) load(ctx context.Context, key string, out interface{}) bool {
	if c.client == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("user cache read failed")
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	return true
}

func (c *UserCache) store(ctx context.Context, key string, value interface{}) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("user cache write failed")
	}
}

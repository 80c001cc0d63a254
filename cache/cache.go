// Package cache is a content-addressed read-through cache over Redis.
// Every operation is non-fatal: a missing or unreachable store degrades to
// a cache miss on read and a no-op on write.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = 300 * time.Second

// Key derives a stable cache key from a logical prefix and the normalized
// query parameters. encoding/json sorts map keys, so two equivalent
// parameter sets always hash identically regardless of presentation order.
func Key(prefix string, params map[string]any) string {
	payload, _ := json.Marshal(params)
	sum := md5.Sum([]byte(prefix + ":" + string(payload)))
	return hex.EncodeToString(sum[:])
}

type Service struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// New builds a cache service. A nil client is allowed and turns every
// operation into a miss or no-op.
func New(rdb *redis.Client, defaultTTL time.Duration, logger *logrus.Logger) *Service {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Service{rdb: rdb, ttl: defaultTTL, logger: logger}
}

func (s *Service) DefaultTTL() time.Duration {
	return s.ttl
}

// Get loads a cached value into dest. Returns false on miss, on store
// failure, and on undecodable payloads.
func (s *Service) Get(ctx context.Context, key string, dest any) bool {
	if s == nil || s.rdb == nil {
		return false
	}
	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.warn("cache get failed", key, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		s.warn("cache payload undecodable", key, err)
		return false
	}
	return true
}

// Set stores a value with the given TTL (default TTL when ttl <= 0).
// Failures are dropped.
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if s == nil || s.rdb == nil {
		return
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	payload, err := json.Marshal(value)
	if err != nil {
		s.warn("cache value unencodable", key, err)
		return
	}
	if err := s.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		s.warn("cache set failed", key, err)
	}
}

// InvalidateAll flushes the whole cache database. Coarse but idempotent;
// safe to call concurrently.
func (s *Service) InvalidateAll(ctx context.Context) {
	if s == nil || s.rdb == nil {
		return
	}
	if err := s.rdb.FlushDB(ctx).Err(); err != nil {
		s.warn("cache flush failed", "", err)
	}
}

// Stats reports a snapshot of store-level counters for monitoring.
func (s *Service) Stats(ctx context.Context) map[string]any {
	if s == nil {
		return map[string]any{"connected": false}
	}
	stats := map[string]any{
		"default_ttl_seconds": int(s.ttl / time.Second),
		"connected":           false,
	}
	if s.rdb == nil {
		return stats
	}
	info, err := s.rdb.Info(ctx, "server", "clients", "memory", "stats").Result()
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["connected"] = true
	for k, v := range parseRedisInfo(info) {
		switch k {
		case "redis_version", "connected_clients", "used_memory_human",
			"used_memory_peak_human", "keyspace_hits", "keyspace_misses":
			stats[k] = v
		}
	}
	return stats
}

func parseRedisInfo(info string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

func (s *Service) warn(msg, key string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"field": "ResultCache",
		"key":   key,
	}).Warn(msg + ": " + err.Error())
}

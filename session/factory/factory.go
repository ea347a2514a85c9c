// Package factory builds a Session backend from environment configuration.
package factory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/loopworks/agentrun/internal/config"
	"github.com/loopworks/agentrun/session"
	"github.com/loopworks/agentrun/session/hybrid"
	"github.com/loopworks/agentrun/session/memory"
	redisstore "github.com/loopworks/agentrun/session/redis"
	sqlitestore "github.com/loopworks/agentrun/session/sqlite"
)

// FromEnv selects a backend from AGENT_SESSION_BACKEND: memory, sqlite,
// redis, or hybrid (sqlite + redis cache).
func FromEnv(ctx context.Context, sessionID string) (session.Session, error) {
	_ = ctx

	backend := strings.ToLower(strings.TrimSpace(getenv("AGENT_SESSION_BACKEND", "memory")))
	switch backend {
	case "memory":
		return memory.New(), nil

	case "sqlite":
		path := getenv("AGENT_SQLITE_PATH", "./.agentrun/sessions.db")
		return sqlitestore.New(path, sessionID)

	case "redis":
		return newRedisSessionFromEnv(sessionID)

	case "hybrid":
		path := getenv("AGENT_SQLITE_PATH", "./.agentrun/sessions.db")
		durable, err := sqlitestore.New(path, sessionID)
		if err != nil {
			return nil, err
		}
		cache, err := newRedisSessionFromEnv(sessionID)
		if err != nil {
			return hybrid.New(durable, nil)
		}
		return hybrid.New(durable, cache)

	default:
		return nil, fmt.Errorf("unsupported AGENT_SESSION_BACKEND %q (use memory, sqlite, redis, or hybrid)", backend)
	}
}

func newRedisSessionFromEnv(sessionID string) (session.Session, error) {
	addr := getenv("AGENT_REDIS_ADDR", "127.0.0.1:6379")
	password := strings.TrimSpace(os.Getenv("AGENT_REDIS_PASSWORD"))
	db := config.ParseIntEnv("AGENT_REDIS_DB", 0)
	ttl := config.ParseDurationEnv("AGENT_REDIS_TTL", 72*time.Hour)

	opts := []redisstore.Option{
		redisstore.WithPassword(password),
		redisstore.WithDB(db),
		redisstore.WithTTL(ttl),
	}
	return redisstore.New(addr, sessionID, opts...)
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

package pubsub

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// New creates a pub/sub backend by name.
//
// Backend options:
//   - "local": in-process only (single instance, tests)
//   - "postgres": PostgreSQL LISTEN/NOTIFY (multi-instance without Redis)
//   - "redis": Redis pub/sub (the default production broker)
//
// pool is required for the "postgres" backend; redisURL for "redis".
func New(backend, redisURL string, pool *pgxpool.Pool) (PubSub, error) {
	switch backend {
	case "local", "":
		log.Info().Msg("Using local pub/sub (single instance mode)")
		return NewLocalPubSub(), nil

	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres pub/sub backend")
		}
		log.Info().Msg("Using PostgreSQL pub/sub (multi-instance mode)")
		ps := NewPostgresPubSub(pool)
		if err := ps.Start(); err != nil {
			return nil, fmt.Errorf("start PostgreSQL pub/sub: %w", err)
		}
		return ps, nil

	case "redis":
		if redisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis pub/sub backend")
		}
		log.Info().Msg("Using Redis pub/sub (multi-instance mode)")
		ps, err := NewRedisPubSub(redisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to Redis for pub/sub: %w", err)
		}
		return ps, nil

	default:
		return nil, fmt.Errorf("unknown pub/sub backend: %s (valid options: local, postgres, redis)", backend)
	}
}

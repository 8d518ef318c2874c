package config

import "time"

type SessionConfig interface {
	GetSessionStore() string
	GetRedisURL() string
	GetDatabaseURL() string
	GetSessionMaxAge() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetSessionStore selects the session backend: memory, redis or postgres.
func (Session) GetSessionStore() string {
	return GetEnv("SESSION_STORE", "memory")
}

func (Session) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379/0")
}

func (Session) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

func (Session) GetSessionMaxAge() time.Duration {
	return GetEnvDuration("SESSION_MAX_AGE", 7*24*time.Hour)
}

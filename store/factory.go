package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend selects a TurnStore implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendSQL    Backend = "sql"
	BackendMongo  Backend = "mongo"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend Backend `yaml:"backend" json:"backend"`

	Redis struct {
		Addr     string        `yaml:"addr" json:"addr"`
		Password string        `yaml:"password" json:"password"`
		DB       int           `yaml:"db" json:"db"`
		Prefix   string        `yaml:"prefix" json:"prefix"`
		TTL      time.Duration `yaml:"ttl" json:"ttl"`
	} `yaml:"redis" json:"redis"`

	SQL struct {
		Driver string `yaml:"driver" json:"driver"`
		DSN    string `yaml:"dsn" json:"dsn"`
	} `yaml:"sql" json:"sql"`

	Mongo struct {
		URI      string `yaml:"uri" json:"uri"`
		Database string `yaml:"database" json:"database"`
	} `yaml:"mongo" json:"mongo"`
}

// New builds the configured TurnStore. An empty backend means memory.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (TurnStore, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s := NewRedisStore(client, cfg.Redis.Prefix, cfg.Redis.TTL, logger)
		if err := s.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		return s, nil
	case BackendSQL:
		return OpenSQL(cfg.SQL.Driver, cfg.SQL.DSN, logger)
	case BackendMongo:
		db := cfg.Mongo.Database
		if db == "" {
			db = "conclave"
		}
		return NewMongoStore(ctx, cfg.Mongo.URI, db, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

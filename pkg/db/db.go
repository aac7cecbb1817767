package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/pkg/env"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

func NewConfig() *Config {
	return &Config{
		Driver:   env.GetEnv("DB_DRIVER", DriverPostgres),
		Host:     env.GetEnv("DB_HOST", "localhost"),
		Port:     env.GetEnv("DB_PORT", "5432"),
		User:     env.GetEnv("DB_USER", "postgres"),
		Password: env.GetEnv("DB_PASSWORD", "postgres"),
		Name:     env.GetEnv("DB_NAME", "provisioner"),
		SSLMode:  env.GetEnv("DB_SSLMODE", "disable"),
		MaxConns: env.GetEnvInt("DB_MAX_CONNS", 10),
	}
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns)
}

// NewPool opens the pool and waits until the database answers a ping.
func NewPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	var pingErr error
	for i := 0; i < 10; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		pingErr = pool.Ping(pingCtx)
		cancel()
		if pingErr == nil {
			return pool, nil
		}
		slog.Warn("db is not ready yet", "try", i, "err", pingErr)
		time.Sleep(500 * time.Millisecond)
	}
	pool.Close()
	return nil, fmt.Errorf("failed to connect to db: %w", pingErr)
}

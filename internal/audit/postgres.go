// Package audit persists a durable trail of SecurityViolations and admin
// control-plane mutations (spec §7 "SecurityViolation... is logged with
// connection + key-id + reason class"; spec §4.7 "all mutations update
// the versioned snapshot atomically"). It is the one place in the
// gateway that talks to Postgres — everything hot-path (sessions, rate
// limits, connection tickets) lives in the KV gateway instead.
package audit

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
)

// Config describes how to reach the audit-log Postgres instance.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) withDefaults() Config {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return c
}

// Connect dials cfg and verifies connectivity, mirroring
// third_party/database's connection bootstrap.
func Connect(cfg Config) (*sqlx.DB, error) {
	cfg = cfg.withDefaults()
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logx.Errorf("audit: failed to connect to postgres: %v", err)
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		logx.Errorf("audit: failed to ping postgres: %v", err)
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		logx.Errorf("audit: failed to apply schema: %v", err)
		return nil, fmt.Errorf("audit: schema: %w", err)
	}

	logx.Info("audit: connected to postgres")
	return db, nil
}

// schema is the single source of truth for the table this package
// reads/writes; Connect applies it so a fresh audit database is usable
// without a separate migration step.
const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id UUID PRIMARY KEY,
	category TEXT NOT NULL,
	actor_user_id TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

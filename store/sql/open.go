package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config describes a database connection. It satisfies the configuration
// contract of go-persistence-bun.
type Config struct {
	Driver         string        `koanf:"driver" mapstructure:"driver"`
	DSN            string        `koanf:"dsn" mapstructure:"dsn"`
	Debug          bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout    time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	MaxOpenConns   int           `koanf:"max_open_conns" mapstructure:"max_open_conns"`
	OtelIdentifier string        `koanf:"otel_identifier" mapstructure:"otel_identifier"`
}

func (c Config) GetDebug() bool {
	return c.Debug
}

func (c Config) GetDriver() string {
	return c.Driver
}

func (c Config) GetServer() string {
	return c.DSN
}

func (c Config) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c Config) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-transfer"
	}
	return c.OtelIdentifier
}

// Open connects to Postgres or SQLite depending on cfg.Driver. Migrations are
// not applied; register them through the migrations package.
func Open(cfg Config) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	switch driver {
	case DriverPostgres, "pg", "postgresql":
		cfg.Driver = DriverPostgres
		return OpenPostgres(cfg)
	case DriverSQLite, "sqlite":
		cfg.Driver = DriverSQLite
		return OpenSQLite(cfg)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
}

func OpenPostgres(cfg Config) (*persistence.Client, error) {
	cfg.Driver = DriverPostgres
	sqlDB, err := sql.Open(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	client, err := persistence.New(cfg, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

// OpenSQLite opens a single-connection SQLite database. SQLite serializes
// writers, so one connection keeps in-memory databases shared and avoids busy
// errors.
func OpenSQLite(cfg Config) (*persistence.Client, error) {
	cfg.Driver = DriverSQLite
	sqlDB, err := sql.Open(DriverSQLite, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	// Registers the New Relic instrumented pgx driver as "nrpgx".
	_ "github.com/newrelic/go-agent/v3/integrations/nrpgx"
)

const (
	driverName = "nrpgx"

	// bindDriverName selects sqlx's $N placeholder rebinding, which it does
	// not know to apply for the instrumented driver name.
	bindDriverName = "pgx"
)

type Config struct {
	User               string
	Host               string
	Password           string
	Port               int
	DbName             string
	SSLMode            string
	MaxOpenConnections int
	MaxIdleConnections int
}

// DSN returns the connection URL for the config.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if len(sslMode) == 0 {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DbName, sslMode,
	)
}

// Open returns a pinged, instrumented connection pool for the config.
func Open(ctx context.Context, c Config) (*sqlx.DB, error) {
	return OpenDSN(ctx, c.DSN(), c.MaxOpenConnections, c.MaxIdleConnections)
}

// OpenDSN is Open for an already assembled connection string.
func OpenDSN(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open connection pool")
	}
	db := sqlx.NewDb(sqlDB, bindDriverName)

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return db, nil
}

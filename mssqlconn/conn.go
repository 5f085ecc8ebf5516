// Package mssqlconn builds connection strings and opens *sql.DB handles for
// the source and destination SQL Server instances, with separately
// configured connection and command timeouts.
package mssqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

// Config is the subset of external connection info the core needs to open
// one side (source or destination) of a sync.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Encrypt/TrustServerCertificate are passed through verbatim since
	// go-mssqldb defaults are version-sensitive; callers set explicit
	// values rather than relying on driver defaults.
	Encrypt                string
	TrustServerCertificate bool

	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration
}

func BuildDSN(c Config) string {
	query := url.Values{}
	query.Add("database", c.Database)
	if c.Encrypt != "" {
		query.Add("encrypt", c.Encrypt)
	}
	if c.TrustServerCertificate {
		query.Add("trustservercertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("dial timeout", fmt.Sprintf("%d", int(c.ConnectionTimeout.Seconds())))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// Open opens a connection pool and verifies connectivity within
// c.ConnectionTimeout (default 30s).
func Open(ctx context.Context, c Config) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", BuildDSN(c))
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	timeout := c.ConnectionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return db, nil
}

// CommandContext derives a context bounded by the given command timeout
// (300s when timeout is not positive). The catalog reader, delta computer,
// applier and ledger do not call it; they use the context they are given.
func CommandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

// Package enginepool creates standardized connections to the SQL
// Server database that hosts both the user table being observed and
// this engine's own coordination tables.
package enginepool

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/microsoft/go-mssqldb" // register the "sqlserver" driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Pool wraps a *sql.DB connected to the database that owns the
// user-designated table.
type Pool struct {
	*sql.DB

	// ConnectionString is retained only for diagnostics; it is never
	// logged in full since it may carry credentials.
	ConnectionString string
}

// Option configures a Pool at construction time.
type Option interface {
	apply(*openOptions)
}

type openOptions struct {
	maxOpenConns    int
	connMaxLifetime time.Duration
}

type optionFunc func(*openOptions)

func (f optionFunc) apply(o *openOptions) { f(o) }

// WithMaxOpenConns bounds the number of concurrent connections. The
// engine itself only ever needs one at a time per transaction, but
// peer goroutines (polling + lease renewal) can overlap.
func WithMaxOpenConns(n int) Option {
	return optionFunc(func(o *openOptions) { o.maxOpenConns = n })
}

// WithConnMaxLifetime bounds how long a pooled connection may be reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return optionFunc(func(o *openOptions) { o.connMaxLifetime = d })
}

// Open connects to the database identified by connectionString,
// returning a Pool and a cleanup function that closes it. The cleanup
// function is always safe to call, even after an error.
func Open(ctx context.Context, connectionString string, opts ...Option) (*Pool, func(), error) {
	o := &openOptions{
		maxOpenConns:    8,
		connMaxLifetime: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt.apply(o)
	}

	db, err := sql.Open("sqlserver", connectionString)
	if err != nil {
		return nil, func() {}, errors.Wrap(err, "could not open sql server connection")
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetConnMaxLifetime(o.connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, func() {}, errors.Wrap(err, "could not ping sql server")
	}

	ret := &Pool{DB: db, ConnectionString: connectionString}
	cleanup := func() {
		if err := ret.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warn("could not close database connection")
		}
	}
	return ret, cleanup, nil
}

package sqldb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/federate/pkg/errors"
)

type pgxBackend struct {
	pool *pgxpool.Pool
}

func newPgxBackend(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxBackend, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	if poolConfig.MinConns > poolConfig.MaxConns {
		poolConfig.MinConns = poolConfig.MaxConns / 2
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to validate connection")
	}
	return &pgxBackend{pool: pool}, nil
}

func (b *pgxBackend) connect(ctx context.Context) (conn, error) {
	c, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire connection")
	}
	return &pgxConn{conn: c}, nil
}

func (b *pgxBackend) ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *pgxBackend) close() {
	b.pool.Close()
}

// pgxConn holds a pooled connection until the atomic request closes it
type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) query(ctx context.Context, text string, args []interface{}) (rowIter, error) {
	rows, err := c.conn.Query(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *pgxConn) exec(ctx context.Context, text string, args []interface{}) (int64, error) {
	tag, err := c.conn.Exec(ctx, text, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Close() error {
	c.conn.Release()
	return nil
}

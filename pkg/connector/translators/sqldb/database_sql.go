package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/ajitpratap0/federate/pkg/errors"
)

type sqlBackend struct {
	db *sql.DB
}

func newSQLBackend(ctx context.Context, driver, dsn string, maxConns int) (*sqlBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to validate connection")
	}
	return &sqlBackend{db: db}, nil
}

func (b *sqlBackend) connect(ctx context.Context) (conn, error) {
	c, err := b.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire connection")
	}
	return &sqlConn{conn: c}, nil
}

func (b *sqlBackend) ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *sqlBackend) close() {
	_ = b.db.Close()
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) query(ctx context.Context, text string, args []interface{}) (rowIter, error) {
	rows, err := c.conn.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &sqlRows{rows: rows, width: len(cols)}, nil
}

func (c *sqlConn) exec(ctx context.Context, text string, args []interface{}) (int64, error) {
	res, err := c.conn.ExecContext(ctx, text, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}

// sqlRows adapts *sql.Rows to rowIter, scanning every column into an
// interface value
type sqlRows struct {
	rows  *sql.Rows
	width int
}

func (r *sqlRows) Next() bool {
	return r.rows.Next()
}

func (r *sqlRows) Values() ([]interface{}, error) {
	values := make([]interface{}, r.width)
	ptrs := make([]interface{}, r.width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *sqlRows) Err() error {
	return r.rows.Err()
}

func (r *sqlRows) Close() {
	_ = r.rows.Close()
}

// SnowflakeDSN returns the dsn property, or builds
// user:password@account/database/schema?warehouse=..&role=.. from the
// individual properties
func SnowflakeDSN(props map[string]string) (string, error) {
	if dsn := props["dsn"]; dsn != "" {
		return dsn, nil
	}
	var missing []string
	for _, key := range []string{"account", "user", "password", "database"} {
		if props[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", errors.Newf(errors.ErrorTypeValidation, "missing properties: %s", strings.Join(missing, ", "))
	}

	schema := props["schema"]
	if schema == "" {
		schema = "PUBLIC"
	}
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		url.QueryEscape(props["user"]), url.QueryEscape(props["password"]), props["account"], props["database"], schema)

	params := url.Values{}
	if wh := props["warehouse"]; wh != "" {
		params.Set("warehouse", wh)
	}
	if role := props["role"]; role != "" {
		params.Set("role", role)
	}
	params.Set("clientSessionKeepAlive", "true")

	return dsn + "?" + params.Encode(), nil
}

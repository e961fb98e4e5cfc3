package sqldb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/lob"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/testutil"
)

type stubRows struct {
	values [][]interface{}
	pos    int
	err    error
	closed bool
}

func (r *stubRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Values() ([]interface{}, error) { return r.values[r.pos-1], nil }
func (r *stubRows) Err() error                     { return r.err }
func (r *stubRows) Close()                         { r.closed = true }

type stubConn struct {
	rows     *stubRows
	affected int64
	block    bool
	queries  []string
	closed   bool
}

func (c *stubConn) query(ctx context.Context, text string, _ []interface{}) (rowIter, error) {
	c.queries = append(c.queries, text)
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.rows, nil
}

func (c *stubConn) exec(ctx context.Context, text string, _ []interface{}) (int64, error) {
	c.queries = append(c.queries, text)
	return c.affected, nil
}

func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

func newExecution(t *testing.T, d Dialect, cmd message.Command, c conn) core.Execution {
	t.Helper()
	tr := NewTranslator(d)
	exec, err := tr.CreateExecution(context.Background(), cmd, &core.ExecutionContext{Source: "db"}, c)
	require.NoError(t, err)
	return exec
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{"postgres", "mysql", "snowflake"} {
		info, ok := registry.GetRegistry().Info(name)
		require.True(t, ok, name)
		assert.Contains(t, info.Properties, "dsn")
		assert.False(t, info.Polling)
	}
}

func TestIsQuery(t *testing.T) {
	tests := []struct {
		text  string
		query bool
	}{
		{"select 1", true},
		{"  (SELECT a FROM t) UNION (SELECT b FROM u)", true},
		{"with x as (select 1) select * from x", true},
		{"SHOW TABLES", true},
		{"insert into t values (1)", false},
		{"UPDATE t SET a = 1", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.query, IsQuery(tt.text), tt.text)
	}
}

func TestCallStatement(t *testing.T) {
	assert.Equal(t, "CALL refresh($1, $2)", CallStatement(Postgres, "refresh", 2))
	assert.Equal(t, "CALL refresh(?, ?, ?)", CallStatement(MySQL, "refresh", 3))
	assert.Equal(t, "CALL refresh()", CallStatement(Snowflake, "refresh", 0))
}

func TestSnowflakeDSN(t *testing.T) {
	dsn, err := SnowflakeDSN(map[string]string{
		"account":   "acme-xy123",
		"user":      "loader",
		"password":  "p@ss",
		"database":  "ANALYTICS",
		"warehouse": "COMPUTE_WH",
		"role":      "READER",
	})
	require.NoError(t, err)
	assert.Equal(t, "loader:p%40ss@acme-xy123/ANALYTICS/PUBLIC?clientSessionKeepAlive=true&role=READER&warehouse=COMPUTE_WH", dsn)

	dsn, err = SnowflakeDSN(map[string]string{"dsn": "u:p@a/db/s"})
	require.NoError(t, err)
	assert.Equal(t, "u:p@a/db/s", dsn)

	_, err = SnowflakeDSN(map[string]string{"account": "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user, password, database")
}

func TestDeclarations(t *testing.T) {
	for _, d := range []Dialect{Postgres, MySQL, Snowflake} {
		caps, err := capabilities.ConvertChecked(Declaration(d), string(d), false)
		require.NoError(t, err, d)
		assert.True(t, caps.Supports(capabilities.RowLimit), d)
		assert.True(t, caps.SupportsFunction("upper"), d)
	}
	pg, _ := capabilities.ConvertChecked(Declaration(Postgres), "pg", false)
	my, _ := capabilities.ConvertChecked(Declaration(MySQL), "my", false)
	assert.True(t, pg.Supports(capabilities.FromJoinOuterFull))
	assert.False(t, my.Supports(capabilities.FromJoinOuterFull))
	assert.Equal(t, 61, my.MaxFromGroups())
	assert.False(t, pg.SupportsFunction("group_concat"))
}

func TestInitializeRequiresDSN(t *testing.T) {
	tr := NewTranslator(Postgres)
	err := tr.Initialize(context.Background(), &config.SourceConfig{Name: "orders", Translator: "postgres"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = tr.Connect(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	err = NewTranslator(MySQL).Initialize(context.Background(), &config.SourceConfig{
		Name:       "shop",
		Properties: map[string]string{"dsn": "root@tcp(localhost)/shop", "max_conns": "zero"},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestQueryExecutionCoercesRows(t *testing.T) {
	c := &stubConn{rows: &stubRows{values: [][]interface{}{
		{int32(1), "a", []byte("payload")},
		{int64(2), nil, []byte("more")},
	}}}
	cmd := &message.NativeCommand{
		Text: "select id, name, body from docs",
		Symbols: []message.Symbol{
			{Name: "id", Type: message.TypeLong},
			{Name: "name", Type: message.TypeString},
			{Name: "body", Type: message.TypeBlob},
		},
	}
	exec := newExecution(t, Postgres, cmd, c)
	rs, ok := exec.(core.ResultSetExecution)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, exec.Execute(ctx))

	row, err := rs.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.Row{int64(1), "a", lob.Bytes("payload")}, row)

	row, err = rs.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, message.Row{int64(2), nil, lob.Bytes("more")}, row)

	row, err = rs.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.True(t, c.rows.closed)

	row, err = rs.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)
	require.NoError(t, exec.Close())
}

func TestQueryExecutionSourceError(t *testing.T) {
	c := &stubConn{rows: &stubRows{err: fmt.Errorf("deadlock detected")}}
	exec := newExecution(t, MySQL, &message.NativeCommand{Text: "select 1"}, c)
	ctx := context.Background()
	require.NoError(t, exec.Execute(ctx))

	_, err := exec.(core.ResultSetExecution).Next(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestQueryExecutionNextBeforeExecute(t *testing.T) {
	exec := newExecution(t, Postgres, &message.NativeCommand{Text: "select 1"}, &stubConn{})
	_, err := exec.(core.ResultSetExecution).Next(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))
}

func TestQueryExecutionCancel(t *testing.T) {
	c := &stubConn{block: true}
	exec := newExecution(t, Postgres, &message.NativeCommand{Text: "select pg_sleep(60)"}, c)

	errCh := make(chan error, 1)
	go func() { errCh <- exec.Execute(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, exec.Cancel())

	select {
	case err := <-errCh:
		assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("execute not interrupted")
	}
}

func TestQueryExecutionStepCancelled(t *testing.T) {
	c := &stubConn{block: true}
	exec := newExecution(t, Postgres, &message.NativeCommand{Text: "select pg_sleep(60)"}, c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := exec.Execute(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
}

func TestUpdateExecution(t *testing.T) {
	c := &stubConn{affected: 7}
	exec := newExecution(t, Postgres, &message.NativeCommand{Text: "delete from t where old"}, c)
	up, ok := exec.(core.UpdateExecution)
	require.True(t, ok)

	_, err := up.UpdateCounts()
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))

	require.NoError(t, exec.Execute(context.Background()))
	counts, err := up.UpdateCounts()
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, counts)
}

func TestProcedureOutputParameters(t *testing.T) {
	c := &stubConn{rows: &stubRows{values: [][]interface{}{{"42", "done"}}}}
	cmd := &message.ProcedureCommand{
		Name: "archive_orders",
		Args: []interface{}{"2024-01-01"},
		OutSymbols: []message.Symbol{
			{Name: "archived", Type: message.TypeLong},
			{Name: "status", Type: message.TypeString},
		},
	}
	exec := newExecution(t, Postgres, cmd, c)
	proc, ok := exec.(core.ProcedureExecution)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, exec.Execute(ctx))
	assert.Equal(t, []string{"CALL archive_orders($1)"}, c.queries)

	row, err := proc.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, row)

	out, err := proc.OutputParameterValues()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(42), "done"}, out)
}

func TestProcedureValidation(t *testing.T) {
	tr := NewTranslator(MySQL)
	_, err := tr.CreateExecution(context.Background(), &message.ProcedureCommand{}, &core.ExecutionContext{}, &stubConn{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))

	_, err = tr.CreateExecution(context.Background(), &message.ProcedureCommand{
		Name:       "p",
		Symbols:    []message.Symbol{{Name: "a"}},
		OutSymbols: []message.Symbol{{Name: "b"}},
	}, &core.ExecutionContext{}, &stubConn{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeProcessing))
}

func TestPostgresIntegration(t *testing.T) {
	dsn := testutil.RequireEnv(t, "FEDERATE_POSTGRES_DSN")
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	tr := NewTranslator(Postgres)
	require.NoError(t, tr.Initialize(ctx, &config.SourceConfig{Name: "pg", Properties: map[string]string{"dsn": dsn}}))
	defer tr.Close(ctx)
	require.NoError(t, tr.Ping(ctx))

	c, err := tr.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()

	cmd := &message.NativeCommand{
		Text:    "select g, 'row ' || g from generate_series(1, 3) g",
		Symbols: []message.Symbol{{Name: "g", Type: message.TypeLong}, {Name: "label", Type: message.TypeString}},
	}
	exec, err := tr.CreateExecution(ctx, cmd, &core.ExecutionContext{Source: "pg"}, c)
	require.NoError(t, err)
	defer exec.Close()
	require.NoError(t, exec.Execute(ctx))

	var rows []message.Row
	for {
		row, err := exec.(core.ResultSetExecution).Next(ctx)
		require.NoError(t, err)
		if row == nil {
			break
		}
		rows = append(rows, row)
	}
	require.Len(t, rows, 3)
	assert.Equal(t, message.Row{int64(3), "row 3"}, rows[2])
}

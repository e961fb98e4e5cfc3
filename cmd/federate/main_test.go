package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/internal/engine"
	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/results"
	"github.com/ajitpratap0/federate/pkg/testutil"
)

func init() {
	registry.MustRegister(registry.TranslatorInfo{Name: "clitest", Description: "rows for command tests"},
		func(*config.SourceConfig) (core.Translator, error) {
			tr := testutil.NewFakeTranslator(
				message.Row{int64(1), "alpha"},
				message.Row{int64(2), "beta"},
			)
			tr.TranslatorName = "clitest"
			tr.Declaration = &capabilities.Declaration{RowLimit: true, Functions: []string{"UPPER"}}
			return tr, nil
		})
}

const testConfig = `
name: cli-test
connector:
  fetch_size: 1
sources:
  - name: orders
    translator: clitest
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func configFile(t *testing.T) string {
	return testutil.CreateTempFile(t, "federate.yaml", []byte(testConfig))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Federate v"+version)
}

func TestTranslatorsCommand(t *testing.T) {
	out, err := run(t, "translators", "--json")
	require.NoError(t, err)

	var infos []registry.TranslatorInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	for _, name := range []string{"postgres", "mysql", "snowflake", "mongodb", "kafka", "s3", "gcs", "bigquery", "clitest"} {
		assert.Contains(t, names, name)
	}

	out, err = run(t, "translators")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "NAME"))
	assert.Contains(t, out, "rows for command tests")
}

func TestQueryCommand(t *testing.T) {
	out, err := run(t, "query", "-c", configFile(t), "--source", "orders",
		"--text", "select id, name from orders", "--columns", "id:long,name:string")
	require.NoError(t, err)

	var batches []*results.ResultsMessage
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		msg, err := results.ReadJSON(strings.NewReader(scanner.Text()))
		require.NoError(t, err)
		batches = append(batches, msg)
	}
	require.Len(t, batches, 2, "fetch size 1 yields one batch per row")
	assert.Equal(t, "orders", batches[0].Source)
	assert.Equal(t, "alpha", batches[0].Rows[0][1])
	assert.Equal(t, "beta", batches[1].Rows[0][1])
	assert.True(t, batches[1].IsFinal())
	assert.Equal(t, 2, batches[1].FinalRow)
}

func TestQueryCommandValidation(t *testing.T) {
	_, err := run(t, "query", "--source", "orders", "--text", "select 1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "no configuration file")

	_, err = run(t, "query", "-c", configFile(t), "--source", "orders")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = run(t, "query", "-c", configFile(t), "--source", "orders", "--text", "select 1", "--columns", "id:uuid")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = run(t, "query", "-c", configFile(t), "--source", "missing", "--text", "select 1")
	assert.Error(t, err)
}

func TestConfigFromEnvironment(t *testing.T) {
	t.Setenv("FEDERATE_CONFIG", configFile(t))
	out, err := run(t, "capabilities", "--source", "orders")
	require.NoError(t, err)

	var caps struct {
		ConnectorID  string   `json:"connector_id"`
		Capabilities []string `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &caps))
	assert.Equal(t, "orders", caps.ConnectorID)
	assert.NotEmpty(t, caps.Capabilities)
}

func TestStatusCommand(t *testing.T) {
	out, err := run(t, "status", "-c", configFile(t))
	require.NoError(t, err)

	var r statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "cli-test", r.Name)
	require.Len(t, r.Sources, 1)
	assert.Equal(t, "orders", r.Sources[0].Pool)
	assert.Equal(t, "clitest", r.Sources[0].Translator)
	assert.Equal(t, "ok", r.Sources[0].Status)
	require.NotNil(t, r.Host)
	assert.NotZero(t, r.Host.ProcessRSS)
}

func TestStatusServer(t *testing.T) {
	cfg, err := config.LoadEngineConfig(configFile(t))
	require.NoError(t, err)
	e, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(context.Background()) }()

	srv, err := newStatusServer(e, 4)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	get := func(path string) (int, string) {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ok":true`)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `federate_workmanager_max_size{pool="orders"}`)
	assert.Contains(t, body, "federate_process_resident_bytes")

	code, body = get("/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"translator":"clitest"`)

	require.NoError(t, e.Stop(context.Background()))
	code, body = get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "orders: stopped")

	cancel()
	assert.NoError(t, <-served)
}

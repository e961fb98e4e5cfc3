package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/internal/engine"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/metrics"
	"github.com/ajitpratap0/federate/pkg/results"
	"github.com/ajitpratap0/federate/pkg/workmanager"
)

func newVersionCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			c.printf("Federate v%s\n", version)
			c.printf("Go version: %s\n", runtime.Version())
			c.printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newTranslatorsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translators",
		Short: "List registered translators",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := registry.List()
			if c.v.GetBool("json") {
				return c.writeJSON(infos)
			}
			w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPOLLING\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%t\t%s\n", info.Name, info.Polling, info.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print translator details as JSON")
	return cmd
}

func newCapabilitiesCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Initialize a source and print its converted capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			source := c.v.GetString("source")
			if source == "" {
				return errors.New(errors.ErrorTypeValidation, "--source is required")
			}
			ctx, cancel := c.commandContext(cmd.Context())
			defer cancel()

			e, stop, err := c.startEngine(ctx)
			if err != nil {
				return err
			}
			defer stop()

			caps, err := e.Repository().Capabilities(source)
			if err != nil {
				return err
			}
			return c.writeJSON(caps)
		},
	}
	cmd.Flags().String("source", "", "Source name")
	return cmd
}

func newQueryCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a native command against one source and print its result batches",
		Long: `Run a native command against one source. Each assembled batch is printed as
one JSON document per line. LOB values are printed as stream references, or
inlined as text with --read-lobs.

Columns are given as name:type pairs, for example "id:long,name:string".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			source := c.v.GetString("source")
			text := c.v.GetString("text")
			if source == "" || text == "" {
				return errors.New(errors.ErrorTypeValidation, "--source and --text are required")
			}
			symbols, err := engine.ParseSymbols(c.v.GetString("columns"))
			if err != nil {
				return err
			}
			var queryArgs []interface{}
			for _, a := range c.v.GetStringSlice("arg") {
				queryArgs = append(queryArgs, a)
			}

			ctx, cancel := c.commandContext(cmd.Context())
			defer cancel()
			e, stop, err := c.startEngine(ctx)
			if err != nil {
				return err
			}
			defer stop()

			session := c.v.GetString("session")
			if session == "" {
				session = uuid.NewString()
			}
			req := e.Plan(session, source, text, symbols, queryArgs...)
			resp, err := e.Execute(ctx, req)
			if err != nil {
				return err
			}
			for _, name := range resp.Sources() {
				for _, msg := range resp.Results[name] {
					if c.v.GetBool("read-lobs") {
						if err := inlineLobs(ctx, e, msg); err != nil {
							return err
						}
					}
					if err := results.WriteJSON(c.stdout, msg); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().String("source", "", "Source name")
	cmd.Flags().String("text", "", "Native command text")
	cmd.Flags().String("columns", "", "Projected columns as name:type pairs")
	cmd.Flags().StringSlice("arg", nil, "Positional command argument (repeatable)")
	cmd.Flags().String("session", "", "Session id (random by default)")
	cmd.Flags().Bool("read-lobs", false, "Read LOB streams and inline them as text")
	return cmd
}

// inlineLobs replaces every stream reference of msg by the stream's content
func inlineLobs(ctx context.Context, e *engine.Engine, msg *results.ResultsMessage) error {
	for _, row := range msg.Rows {
		for i, v := range row {
			ref, ok := v.(results.LobReference)
			if !ok {
				continue
			}
			in := e.OpenLob(ctx, ref.StreamID)
			data, err := in.ByteContents()
			_ = in.Close()
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeProcessing, "failed to read lob").
					WithDetail("stream_id", ref.StreamID)
			}
			row[i] = string(data)
		}
	}
	return nil
}

// sourceStatus reports one connector manager
type sourceStatus struct {
	Pool       string            `json:"pool"`
	Source     string            `json:"source"`
	Translator string            `json:"translator"`
	Status     string            `json:"status"`
	Health     string            `json:"health,omitempty"`
	HealthErr  string            `json:"health_error,omitempty"`
	Stats      workmanager.Stats `json:"stats"`
}

type statusReport struct {
	Name    string              `json:"name"`
	Sources []sourceStatus      `json:"sources"`
	Host    *metrics.HostSample `json:"host,omitempty"`
}

func report(e *engine.Engine, host *metrics.HostCollector) statusReport {
	r := statusReport{Name: e.Config().Name}
	for _, name := range e.Repository().Sources() {
		for _, m := range e.Repository().Managers(name) {
			s := sourceStatus{
				Pool:       m.Name(),
				Source:     m.Source(),
				Translator: m.Translator().Name(),
				Status:     m.Status().String(),
				Stats:      m.Stats(),
			}
			if h := m.Health(); h != nil {
				s.Health = h.Status
				if h.Error != nil {
					s.HealthErr = h.Error.Error()
				}
			}
			r.Sources = append(r.Sources, s)
		}
	}
	if host != nil {
		sample := host.Sample()
		r.Host = &sample
	}
	return r
}

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Start every source once and print manager status, pool statistics and host usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.commandContext(cmd.Context())
			defer cancel()
			e, stop, err := c.startEngine(ctx)
			if err != nil {
				return err
			}
			defer stop()

			host, err := metrics.NewHostCollector()
			if err != nil {
				logger.Get().Warn("host statistics unavailable", zap.Error(err))
			}
			return c.writeJSON(report(e, host))
		},
	}
}

func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and serve metrics and status until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			e, stop, err := c.startEngine(ctx)
			if err != nil {
				return err
			}
			defer stop()

			addr := c.v.GetString("metrics-addr")
			if addr == "" {
				addr = e.Config().Observability.MetricsAddr
			}
			if addr == "" {
				addr = ":9090"
			}
			srv, err := newStatusServer(e, c.v.GetInt("max-conns"))
			if err != nil {
				return err
			}

			go logStats(ctx, e, c.v.GetDuration("stats-interval"))
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().String("metrics-addr", "", "Listen address of the metrics endpoint (default from config or :9090)")
	cmd.Flags().Int("max-conns", 64, "Maximum concurrent connections to the metrics endpoint (0 = unlimited)")
	cmd.Flags().Duration("stats-interval", time.Minute, "Interval of pool statistics log lines (0 = disabled)")
	return cmd
}

func logStats(ctx context.Context, e *engine.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log := logger.Get().With(zap.String("component", "federate_cli"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range e.Repository().Sources() {
				for _, m := range e.Repository().Managers(name) {
					log.Info("pool statistics", zap.String("pool", m.Name()), zap.String("stats", m.Stats().String()))
				}
			}
		}
	}
}

func (c *cli) writeJSON(v interface{}) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package federate is the connector execution core of a data virtualization
// engine. A federated request is split into atomic requests, one per access
// to a physical source; federate runs each atomic request against its source
// through a pluggable translator and hands back assembled result batches.
//
// # Architecture
//
// Every physical source is served by one or more connector managers. A
// manager owns the source's translator instance, its converted capabilities
// and a bounded worker pool:
//
//  1. Capabilities: a translator declares what it can push down (joins,
//     criteria, aggregates, functions, limits). The declaration is converted
//     once into an immutable capability set used by the planner.
//
//  2. Atomic requests: each request is driven through an execute/more/close
//     state machine (ConnectorWork). At most one step of a request is in
//     flight at a time, and a cancel interrupts the running step.
//
//  3. Worker pools: a StatsCapturingWorkManager bounds the number of running
//     steps per source and records active, queued, submitted and completed
//     counts plus their high-water marks. Sources that are not ready yet
//     signal data-not-available and the step is resubmitted after a delay
//     instead of holding a worker.
//
//  4. LOB streaming: large binary and character values are not sent inline.
//     They are registered as streams and pulled by the client in encoded,
//     optionally compressed chunks.
//
//  5. Transactions: XA operations are passed through to an external
//     transaction manager; federate only validates and forwards them.
//
// # Key Packages
//
//   - internal/engine: wires managers, scheduler, LOB streams and the
//     transaction boundary; plans and executes requests
//   - pkg/capabilities: capability model and declaration converter
//   - pkg/message: atomic request, command and batch model
//   - pkg/workmanager: statistics-capturing bounded worker pool
//   - pkg/connector/manager: ConnectorWork, ConnectorManager and routing
//   - pkg/connector/translators: postgres, mysql, snowflake, mongodb,
//     kafka, s3, gcs and bigquery translators
//   - pkg/lob: chunk codec, stream registry and chunk input streams
//   - pkg/results: result assembly, JSON and Arrow encodings
//   - pkg/transaction: XA identifiers and pass-through service
//
// # Quick Start
//
//	cfg, err := config.LoadEngineConfig("federate.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e, err := engine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := e.Start(ctx); err != nil {
//	    log.Println("some sources are unavailable:", err)
//	}
//	defer e.Stop(ctx)
//
//	symbols, _ := engine.ParseSymbols("id:long,name:string")
//	resp, err := e.Execute(ctx, e.Plan("session-1", "orders", "SELECT id, name FROM orders", symbols))
//
// # Configuration
//
// Engines are configured from YAML with ${VAR} and ${VAR:-default}
// environment substitution:
//
//	name: sales
//	work_manager:
//	  max_threads: 16
//	lob:
//	  chunk_size: 102400
//	  compression: zstd
//	sources:
//	  - name: orders
//	    translator: postgres
//	    properties:
//	      dsn: ${ORDERS_DSN}
//
// # Command Line
//
// The federate command lists translators, prints source capabilities, runs
// native commands and serves prometheus metrics:
//
//	federate query -c federate.yaml --source orders --text "SELECT 1" --columns one:integer
//	federate serve -c federate.yaml --metrics-addr :9090
package federate

// Package connector groups the packages that run atomic requests against
// physical sources.
//
// # Architecture Overview
//
//   - core: the Translator, Connection and Execution interfaces every
//     translator implements, the execution scope shared by the steps of one
//     request, source value coercion and the data-not-available signal.
//
//   - manager: ConnectorWork, the execute/more/close/cancel state machine of
//     one atomic request, and ConnectorManager, which owns a translator, its
//     converted capabilities, a health checker and a bounded worker pool.
//     A Repository routes requests to the managers of their source.
//
//   - registry: translator types self-register from their init functions
//     and are instantiated per configured source.
//
//   - translators: postgres, mysql and snowflake (sqldb), mongodb, kafka,
//     s3 and gcs (objectstore) and bigquery.
//
// # Writing a Translator
//
// A translator declares its capabilities, opens connections and creates one
// execution per command. Polling translators return core.NotAvailable from
// Execute or Next when a source has nothing to return yet; the work is then
// rescheduled after the delay instead of holding a worker.
//
//	func init() {
//	    registry.MustRegister(registry.TranslatorInfo{
//	        Name:        "mysource",
//	        Description: "My source",
//	        Properties:  []string{"endpoint"},
//	    }, func(*config.SourceConfig) (core.Translator, error) {
//	        return &Translator{}, nil
//	    })
//	}
//
// Executions receive a fresh step context on every call; state that must
// outlive a step, such as an open cursor, is bound to the execution scope.
package connector

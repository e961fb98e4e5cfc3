// Command federate runs native requests against the sources of a federate
// engine configuration and serves the engine's metrics.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	// Import all available translators to register them
	_ "github.com/ajitpratap0/federate/pkg/connector/translators/bigquery"
	_ "github.com/ajitpratap0/federate/pkg/connector/translators/kafka"
	_ "github.com/ajitpratap0/federate/pkg/connector/translators/mongodb"
	_ "github.com/ajitpratap0/federate/pkg/connector/translators/objectstore"
	_ "github.com/ajitpratap0/federate/pkg/connector/translators/sqldb"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

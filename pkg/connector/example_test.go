package connector_test

import (
	"context"
	"fmt"
	"log"

	"github.com/ajitpratap0/federate/internal/engine"
	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/connector/registry"
	"github.com/ajitpratap0/federate/pkg/message"
	"github.com/ajitpratap0/federate/pkg/testutil"
)

// Example registers a translator, serves a source with it and runs one
// request through the engine.
func Example() {
	reg := registry.NewRegistry()
	err := reg.Register(registry.TranslatorInfo{Name: "memory", Description: "in-memory rows"},
		func(*config.SourceConfig) (core.Translator, error) {
			tr := testutil.NewFakeTranslator(
				message.Row{int64(1), "widget"},
				message.Row{int64(2), "gadget"},
			)
			tr.TranslatorName = "memory"
			return tr, nil
		})
	if err != nil {
		log.Fatal(err)
	}

	cfg := config.NewEngineConfig("inventory")
	cfg.Sources = []config.SourceConfig{{Name: "products", Translator: "memory"}}

	e, err := engine.New(cfg, engine.WithRegistry(reg))
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer func() { _ = e.Stop(ctx) }()

	symbols, err := engine.ParseSymbols("id:long,name:string")
	if err != nil {
		log.Fatal(err)
	}
	resp, err := e.Execute(ctx, e.Plan("session-1", "products", "all products", symbols))
	if err != nil {
		log.Fatal(err)
	}
	for _, row := range resp.Rows("products") {
		fmt.Println(row[0], row[1])
	}
	// Output:
	// 1 widget
	// 2 gadget
}

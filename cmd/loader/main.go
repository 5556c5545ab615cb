// Command loader consumes the Redis stream into the warehouse fact table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/bootstrap"
	"github.com/trinhhung12345/data-warehouse/internal/loader"
	"github.com/trinhhung12345/data-warehouse/internal/logging"
	"github.com/trinhhung12345/data-warehouse/internal/source"
)

func main() {
	configPath := flag.String("config", os.Getenv("PIPELINE_CONFIG"), "path to the pipeline YAML config")
	flag.Parse()

	app, err := bootstrap.New("loader", *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loader: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app); err != nil {
		app.Logger.Error("Loader failed", zap.Error(err))
		app.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, app *bootstrap.App) error {
	cfg := app.Config

	client, err := app.Redis(ctx)
	if err != nil {
		return err
	}
	crm, err := app.CRMDB(ctx)
	if err != nil {
		return err
	}
	wh, err := app.Warehouse(ctx)
	if err != nil {
		return err
	}

	stream := app.Stream(client)
	if err := stream.EnsureGroup(ctx); err != nil {
		return err
	}

	ld := loader.New(
		stream,
		wh,
		source.NewCRMReader(crm),
		loader.Config{
			Count:       cfg.Loader.Count,
			Block:       cfg.Loader.Block(),
			IdleWait:    cfg.Loader.IdleWait(),
			FoldModulus: cfg.Loader.FoldModulus,
		},
		logging.Component(app.Logger, "loader").With(zap.String("consumer", cfg.Stream.Consumer)),
		app.Metrics,
	)

	app.Runner("loader", ld.Step, cfg.Loader.Backoff(), func() any { return ld.LastResult() })
	return app.Run(ctx)
}

// Command extractor publishes new ops trips to the Redis stream.
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
	"github.com/trinhhung12345/data-warehouse/internal/cursor"
	"github.com/trinhhung12345/data-warehouse/internal/extractor"
	"github.com/trinhhung12345/data-warehouse/internal/logging"
	"github.com/trinhhung12345/data-warehouse/internal/source"
)

func main() {
	configPath := flag.String("config", os.Getenv("PIPELINE_CONFIG"), "path to the pipeline YAML config")
	flag.Parse()

	app, err := bootstrap.New("extractor", *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "extractor: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app); err != nil {
		app.Logger.Error("Extractor failed", zap.Error(err))
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
	ops, err := app.OpsDB(ctx)
	if err != nil {
		return err
	}

	stream := app.Stream(client)
	if err := stream.EnsureGroup(ctx); err != nil {
		return err
	}

	ext := extractor.New(
		source.NewOpsReader(ops),
		cursor.NewStore(client, cfg.Stream.CursorKey),
		stream,
		extractor.Config{
			BatchSize:    cfg.Extractor.BatchSize,
			IdleInterval: cfg.Extractor.IdleInterval(),
			Backpressure: extractor.Backpressure{
				Warning:       cfg.Extractor.WarningBacklog,
				Critical:      cfg.Extractor.CriticalBacklog,
				ShortPause:    cfg.Extractor.ShortPause(),
				CriticalPause: cfg.Extractor.CriticalPause(),
				MaxPause:      cfg.Extractor.MaxPause(),
			},
		},
		logging.Component(app.Logger, "extractor"),
		app.Metrics,
	)

	app.Runner("extractor", ext.Step, cfg.Extractor.Backoff(), func() any { return ext.LastResult() })
	return app.Run(ctx)
}

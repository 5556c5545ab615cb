// Command dimsync keeps the warehouse dimensions in step with the ops and CRM stores.
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
	"github.com/trinhhung12345/data-warehouse/internal/dimsync"
	"github.com/trinhhung12345/data-warehouse/internal/logging"
	"github.com/trinhhung12345/data-warehouse/internal/source"
)

func main() {
	configPath := flag.String("config", os.Getenv("PIPELINE_CONFIG"), "path to the pipeline YAML config")
	once := flag.Bool("once", false, "run a single synchronization cycle and exit")
	flag.Parse()

	app, err := bootstrap.New("dimsync", *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dimsync: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, *once); err != nil {
		app.Logger.Error("Dimension sync failed", zap.Error(err))
		app.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, app *bootstrap.App, once bool) error {
	cfg := app.Config

	dims, err := dimsync.ParseDimensions(cfg.DimSync.Dimensions)
	if err != nil {
		return err
	}
	ops, err := app.OpsDB(ctx)
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

	syncer := dimsync.New(
		dimsync.Sources{Ops: source.NewOpsReader(ops), CRM: source.NewCRMReader(crm)},
		wh,
		dimsync.Config{Dimensions: dims, Cooldown: cfg.DimSync.Cooldown()},
		logging.Component(app.Logger, "dimsync"),
		app.Metrics,
	)

	if once {
		cycle, err := syncer.RunCycle(ctx)
		if err != nil {
			return err
		}
		app.Logger.Info("Cycle complete", zap.Any("results", cycle.Results))
		return nil
	}

	app.Runner("dimsync", syncer.Step, cfg.DimSync.Backoff(), func() any { return syncer.LastCycle() })
	return app.Run(ctx)
}

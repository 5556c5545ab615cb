// Command etlctl runs operator tasks against the pipeline: schema
// migration, queue inspection, cursor repair and queue resets.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trinhhung12345/data-warehouse/internal/admin"
	"github.com/trinhhung12345/data-warehouse/internal/bootstrap"
	"github.com/trinhhung12345/data-warehouse/internal/cursor"
	"github.com/trinhhung12345/data-warehouse/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "etlctl",
		Short:        "Operate the trip ETL pipeline",
		SilenceUsage: true,
		Version:      bootstrap.Version,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("PIPELINE_CONFIG"), "path to the pipeline YAML config")

	root.AddCommand(
		newMigrateCmd(opts),
		newStatusCmd(opts),
		newSyncCursorCmd(opts),
		newResetCmd(opts),
		newPurgeQueueCmd(opts),
	)
	return root
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the warehouse tables and unknown members",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap.New("etlctl", opts.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			wh, err := app.Warehouse(cmd.Context())
			if err != nil {
				return err
			}
			if err := wh.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			app.Logger.Info("Warehouse schema is up to date")
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	var withWarehouse bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the cursor, stream length and pending entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, adm, err := connect(cmd.Context(), opts, withWarehouse)
			if err != nil {
				return err
			}
			defer app.Close()

			st, err := adm.Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	cmd.Flags().BoolVar(&withWarehouse, "warehouse", true, "include the highest loaded trip id")
	return cmd
}

func newSyncCursorCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync-cursor",
		Short: "Reset the cursor to the highest trip id in the warehouse",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, adm, err := connect(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer app.Close()

			before, after, err := adm.SyncCursor(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cursor %d -> %d", before, after)
			if dryRun {
				fmt.Fprint(cmd.OutOrStdout(), " (dry run)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the new cursor without writing it")
	return cmd
}

func newResetCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stream, its consumer group and the cursor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset deletes the queue and the cursor; pass --yes to confirm")
			}
			app, adm, err := connect(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer app.Close()
			return adm.Reset(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newPurgeQueueCmd(opts *options) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge-queue",
		Short: "Drop every queued entry, keeping the consumer group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("purge-queue drops unloaded trips; pass --yes to confirm")
			}
			app, adm, err := connect(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := adm.PurgeQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

// connect opens Redis and, when asked, the warehouse
func connect(ctx context.Context, opts *options, withWarehouse bool) (*bootstrap.App, *admin.Admin, error) {
	app, err := bootstrap.New("etlctl", opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	client, err := app.Redis(ctx)
	if err != nil {
		app.Close()
		return nil, nil, err
	}

	var wh admin.Warehouse
	if withWarehouse {
		w, err := app.Warehouse(ctx)
		if err != nil {
			app.Close()
			return nil, nil, err
		}
		wh = w
	}

	adm := admin.New(
		cursor.NewStore(client, app.Config.Stream.CursorKey),
		app.Stream(client),
		wh,
		logging.Component(app.Logger, "etlctl").With(zap.String("stream", app.Config.Stream.Name)),
	)
	return app, adm, nil
}

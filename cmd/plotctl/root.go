package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/plotsync/internal/app"
	"github.com/stwalsh4118/plotsync/internal/config"
	"github.com/stwalsh4118/plotsync/internal/logger"
	"github.com/stwalsh4118/plotsync/internal/progress"
	"github.com/stwalsh4118/plotsync/internal/services"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "plotctl",
		Short: "Land plot import pipeline",
		Long: `plotctl previews spreadsheets of land plots, resolves missing
locations through the cadastral lookup and reconciles the result with
the catalog.

Configuration comes from the same environment variables and .env file
as the server. Logs go to stderr; results go to stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging in console format")

	root.AddCommand(
		newPreviewCommand(opts),
		newCommitCommand(opts),
		newTemplateCommand(),
	)
	return root
}

// loadPipeline reads configuration and builds the pipeline with logs on the
// command's stderr.
func loadPipeline(cmd *cobra.Command, opts *rootOptions, appOpts app.Options) (*app.App, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	env := cfg.Server.Env
	if opts.verbose {
		env = "development"
	}
	log := logger.NewWithWriter(env, cmd.ErrOrStderr())

	pipeline, err := app.New(cmd.Context(), cfg, appOpts, log)
	if err != nil {
		return nil, nil, err
	}
	return pipeline, log, nil
}

// streamRun runs fn on a fresh run of svc and writes its events to out as
// NDJSON. The error of fn wins over a write error.
func streamRun(ctx context.Context, svc services.Importer, out io.Writer, fn func(ctx context.Context, sink progress.Sink) error) error {
	run := svc.NewRun()
	errc := make(chan error, 1)
	go func() {
		defer run.Close()
		errc <- fn(ctx, run)
	}()

	pumpErr := progress.Pump(run.Events(), progress.NewNDJSONWriter(out))
	if err := <-errc; err != nil {
		return err
	}
	return pumpErr
}

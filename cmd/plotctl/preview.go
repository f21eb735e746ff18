package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/plotsync/internal/app"
	"github.com/stwalsh4118/plotsync/internal/normalize"
	"github.com/stwalsh4118/plotsync/internal/progress"
	"github.com/stwalsh4118/plotsync/internal/rowsource"
	"github.com/stwalsh4118/plotsync/internal/services"
)

type previewOptions struct {
	file                string
	district            string
	settlement          string
	description         string
	autoResolve         bool
	allowEmptyCadastral bool
	stream              bool
}

func newPreviewCommand(root *rootOptions) *cobra.Command {
	opts := &previewOptions{}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Normalize and group a spreadsheet without touching the catalog",
		Long: `Preview reads an .xlsx or .csv file, normalizes every row into plot
records, groups lots and optionally resolves missing locations.

The preview payload is printed as JSON and can be passed to "plotctl commit".
With --stream every progress event is printed as NDJSON instead.`,
		Example: `  plotctl preview --file plots.xlsx --settlement "пос. Поддубное" > preview.json
  plotctl preview --file plots.csv --auto-resolve --stream`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPreview(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "spreadsheet to import (.xlsx or .csv)")
	cmd.Flags().StringVar(&opts.district, "district", "", "district for every row")
	cmd.Flags().StringVar(&opts.settlement, "settlement", "", "settlement for rows that have none")
	cmd.Flags().StringVar(&opts.description, "description", "", "description for every row")
	cmd.Flags().BoolVar(&opts.autoResolve, "auto-resolve", false, "look up missing locations by cadastral number")
	cmd.Flags().BoolVar(&opts.allowEmptyCadastral, "allow-empty-cadastral", false, "keep rows without a cadastral number")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print progress events as NDJSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runPreview(cmd *cobra.Command, root *rootOptions, opts *previewOptions) error {
	rows, err := readRows(opts.file)
	if err != nil {
		return err
	}

	pipeline, log, err := loadPipeline(cmd, root, app.Options{})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	log.Info("previewing spreadsheet", map[string]interface{}{"file": opts.file, "rows": len(rows)})

	req := services.PreviewRequest{
		Rows:                rows,
		District:            opts.district,
		Settlement:          opts.settlement,
		Description:         opts.description,
		AutoResolve:         opts.autoResolve,
		AllowEmptyCadastral: opts.allowEmptyCadastral,
	}
	svc := pipeline.Service

	if opts.stream {
		return streamRun(cmd.Context(), svc, cmd.OutOrStdout(), func(ctx context.Context, sink progress.Sink) error {
			_, err := svc.Preview(ctx, req, sink)
			return err
		})
	}

	preview, err := svc.Preview(cmd.Context(), req, progress.Discard)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(preview)
}

func readRows(path string) ([]normalize.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := rowsource.Read(path, f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/plotsync/internal/app"
	"github.com/stwalsh4118/plotsync/internal/models"
	"github.com/stwalsh4118/plotsync/internal/progress"
	"github.com/stwalsh4118/plotsync/internal/services"
)

type commitOptions struct {
	file        string
	scope       string
	sourceName  string
	autoResolve bool
}

func newCommitCommand(root *rootOptions) *cobra.Command {
	opts := &commitOptions{}

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Reconcile previewed records with the catalog",
		Long: `Commit applies previewed records to the catalog: new plots are added,
changed plots are updated and plots of the scope settlement that are
missing from the file are archived. Use --scope __MULTI__ for a file
spanning several settlements; nothing is archived then.

The input is the JSON printed by "plotctl preview" or a plain array of
records. Progress events are printed as NDJSON.`,
		Example: `  plotctl commit --file preview.json --scope "пос. Поддубное"
  plotctl commit --file preview.json --auto-resolve --source plots.xlsx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommit(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "preview JSON to commit")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "settlement to reconcile, or "+models.MultiSettlementScope)
	cmd.Flags().StringVar(&opts.sourceName, "source", "", "original spreadsheet name for the import log")
	cmd.Flags().BoolVar(&opts.autoResolve, "auto-resolve", false, "derive the scope from the records when --scope is empty")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runCommit(cmd *cobra.Command, root *rootOptions, opts *commitOptions) error {
	records, err := readRecords(opts.file)
	if err != nil {
		return err
	}

	req := services.CommitRequest{
		Records:     records,
		Scope:       opts.scope,
		FileName:    opts.sourceName,
		FileType:    strings.TrimPrefix(filepath.Ext(opts.sourceName), "."),
		AutoResolve: opts.autoResolve,
	}
	if services.ScopeFor(req).IsEmpty() {
		return fmt.Errorf("%w: pass --scope or --auto-resolve", services.ErrScopeRequired)
	}

	pipeline, log, err := loadPipeline(cmd, root, app.Options{WithCatalog: true})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	log.Info("committing records", map[string]interface{}{"file": opts.file, "records": len(records)})

	svc := pipeline.Service
	return streamRun(cmd.Context(), svc, cmd.OutOrStdout(), func(ctx context.Context, sink progress.Sink) error {
		_, err := svc.Commit(ctx, req, sink)
		return err
	})
}

// readRecords accepts either a preview payload or a bare array of records.
func readRecords(path string) ([]models.PlotRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)

	if bytes.HasPrefix(data, []byte("[")) {
		var records []models.PlotRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse records in %s: %w", path, err)
		}
		return records, nil
	}

	var preview progress.Preview
	if err := json.Unmarshal(data, &preview); err != nil {
		return nil, fmt.Errorf("failed to parse preview in %s: %w", path, err)
	}
	if preview.Records == nil {
		return nil, fmt.Errorf("no records in %s", path)
	}
	return preview.Records, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stwalsh4118/plotsync/internal/rowsource"
)

func newTemplateCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:     "template",
		Short:   "Write an empty import spreadsheet with the expected columns",
		Example: `  plotctl template --out plots.xlsx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "-" {
				return rowsource.WriteTemplate(cmd.OutOrStdout())
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := rowsource.WriteTemplate(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Template written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "import-template.xlsx", `output file, "-" for stdout`)

	return cmd
}

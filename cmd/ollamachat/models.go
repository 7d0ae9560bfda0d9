package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/ollamakit/eventloop"
	"github.com/vinayprograms/ollamakit/ollama"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), settings, os.Stderr)
		if err != nil {
			return err
		}
		defer a.close()

		fut, err := eventloop.Go(a.rt, func(ctx context.Context) ([]ollama.ModelInfo, error) {
			return a.client.Models(ctx, settings.Address)
		})
		if err != nil {
			return err
		}
		models, err := fut.Wait(cmd.Context())
		if err != nil {
			return err
		}

		if len(models) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No models found.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, humanSize(m.Size), m.ModifiedAt)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

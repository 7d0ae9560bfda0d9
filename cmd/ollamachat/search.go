package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/ollamakit/transcript"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search archived exchanges",
	Long: `Search the transcript index for exchanges whose prompt or response match
the query. With --model, only exchanges with that model are returned.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if settings.Transcript.Path == "" {
			return errors.New("no transcript configured (set --transcript or [transcript] path)")
		}
		if _, err := os.Stat(settings.Transcript.Path); err != nil {
			return fmt.Errorf("transcript %s: %w", settings.Transcript.Path, err)
		}

		store, err := transcript.Open(settings.Transcript.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		opts := transcript.SearchOptions{Limit: limit}
		if cmd.Flags().Changed("model") {
			opts.Model = settings.Model
		}

		hits, err := store.Search(cmd.Context(), strings.Join(args, " "), opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(hits) == 0 {
			fmt.Fprintln(out, "No matching exchanges.")
			return nil
		}
		for _, h := range hits {
			fmt.Fprintf(out, "%s  %s  (%.2f)\n", h.StartedAt.Local().Format(time.DateTime), h.Model, h.Score)
			fmt.Fprintf(out, "  > %s\n", oneLine(h.Prompt, 100))
			fmt.Fprintf(out, "  %s\n\n", oneLine(h.Response, 200))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", transcript.DefaultLimit, "Maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

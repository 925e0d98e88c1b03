package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/ingest"
	"github.com/jeanpaul/danzar/internal/tui"
	"github.com/jeanpaul/danzar/internal/web"
)

func newIngestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|glob|url>...",
		Short: "Index documents into memory (text, PDF, spreadsheets, web pages)",
		Example: `  danzar ingest notes.md
  danzar ingest "docs/**/*.pdf" https://example.com/lore`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			store, closeEmbed, err := wireMemory(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer closeEmbed()

			in := ingest.New(store, web.New(web.Options{}), c.logger)
			results, err := in.Ingest(ctx, args)

			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "  %s %s: %v\n", tui.ErrorStyle.Render("✗"), r.Source, r.Err)
					continue
				}
				fmt.Fprintf(out, "  %s %s (%d chunks)\n", tui.BannerStyle.Render("✓"), r.Source, r.Chunks)
			}
			fmt.Fprintln(out, tui.HelpStyle.Render(fmt.Sprintf("  memory now holds %d entries", store.Len())))
			if err != nil {
				return err
			}
			if failed == len(results) {
				return fmt.Errorf("nothing was ingested")
			}
			return nil
		},
	}
}

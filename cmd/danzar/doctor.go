package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/health"
	"github.com/jeanpaul/danzar/internal/tui"
)

func newDoctorCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check model endpoints, storage paths and local tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results := health.Doctor(cmd.Context(), c.cfg)
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, tui.BannerStyle.Render("  Service Health Check"))
				fmt.Fprintln(out)
				for _, r := range results {
					mark := tui.BannerStyle.Render("✓")
					switch {
					case !r.OK && r.Optional:
						mark = tui.HelpStyle.Render("-")
					case !r.OK:
						mark = tui.ErrorStyle.Render("✗")
					}
					fmt.Fprintf(out, "  %s %-22s %s\n", mark, r.Name, r.Detail)
				}
			}
			if !health.Healthy(results) {
				return errors.New("some required checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

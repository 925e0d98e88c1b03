package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/settings"
)

func newSettingsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change persona and voice settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := settings.Open(c.cfg.SettingsPath, c.logger).YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change one setting and save",
		Long:      "Change one setting and save. Keys: " + strings.Join(settings.Keys(), ", "),
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: settings.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := settings.Open(c.cfg.SettingsPath, c.logger)
			if err := mgr.Set(args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			mgr.Save()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
			return err
		},
	})
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/danzar/internal/model"
	"github.com/jeanpaul/danzar/internal/tui"
)

func newModelsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List, pull or remove models on the provider's local server",
		Long: "Manage models on the selected provider. Listing works with any OpenAI-compatible " +
			"server; pull and rm need Ollama.",
	}

	manager := func() (*model.Manager, error) {
		p, ok := c.cfg.ProviderFor("")
		if !ok || p.Type != "openai" {
			return nil, fmt.Errorf("provider %q is not a local OpenAI-compatible server", c.cfg.DefaultProvider)
		}
		return model.NewManager(p.BaseURL, p.APIKey, c.logger), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			models, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			active, _ := c.cfg.ProviderFor("")
			for _, info := range models {
				marker := " "
				if info.Name == active.Model {
					marker = tui.BannerStyle.Render("*")
				}
				line := fmt.Sprintf("%s %s", marker, info.Name)
				if info.Size > 0 {
					line += tui.HelpStyle.Render(fmt.Sprintf("  %s %s %s", model.HumanSize(info.Size), info.Parameters, info.Quant))
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pull <model>",
		Short: "Download a model (Ollama names or hf.co/user/repo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			out := cmd.OutOrStdout()
			last := ""
			err = m.Pull(ctx, args[0], func(p model.PullProgress) {
				if p.Total > 0 {
					fmt.Fprintf(out, "\r  %s %5.1f%%", p.Status, p.Percent)
					last = p.Status
					return
				}
				if last != "" {
					fmt.Fprintln(out)
					last = ""
				}
				fmt.Fprintf(out, "  %s\n", p.Status)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s %s\n", tui.BannerStyle.Render("✓"), args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <model>",
		Short: "Remove a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			if err := m.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	})
	return cmd
}

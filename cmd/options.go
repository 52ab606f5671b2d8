package cmd

import (
	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/backend"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List recognized config options",
	Long: `Config files are TOML (or YAML) with one key per option; storage options live
in a [storage] table. --set key=value overrides any of them; a value in double
quotes has C escapes such as \n applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		keyStyle := lipgloss.NewStyle().Bold(true).Width(22)
		reqStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
		lines := make([]string, 0, len(api.Known))
		for _, o := range api.Known {
			line := keyStyle.Render(o.Key) + o.Description
			if o.Required {
				line += " " + reqStyle.Render("(required)")
			}
			lines = append(lines, line)
		}
		return writeLines(cmd.OutOrStdout(), lines)
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available storage backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeLines(cmd.OutOrStdout(), backend.Names())
	},
}

func init() {
	rootCmd.AddCommand(optionsCmd, backendsCmd)
}

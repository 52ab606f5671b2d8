package cmd

import (
	"fmt"
	"io"

	"github.com/agentic-research/markov/internal/chain"
	"github.com/agentic-research/markov/internal/ingest"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [input files...]",
	Short: "Print chain statistics",
	Long: `stats trains on the given files, or reads the stored chain when no files are
given (the cache file for the memory backend, the database otherwise), and
prints the number of contexts, transitions and distinct tokens.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		mode := ingest.CacheNone
		if len(args) == 0 {
			mode = ingest.CacheRead
		}
		e, err := ingest.NewEngine(env.backend, ingest.Config{
			Files:     args,
			Jobs:      jobs,
			Cache:     mode,
			CacheFile: cacheFile,
		}, env.log)
		if err != nil {
			return err
		}
		m, err := e.Build(cmd.Context())
		if err != nil {
			return err
		}
		st, err := m.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return renderStats(cmd.OutOrStdout(), backendName, st)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func renderStats(w io.Writer, backendName string, st chain.Stats) error {
	var (
		headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F780FF"))
		labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Width(14)
		valueStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B"))
	)
	rows := []struct {
		label string
		value int64
	}{
		{"order", int64(st.Order)},
		{"contexts", st.Contexts},
		{"transitions", st.Transitions},
		{"vocabulary", st.Vocabulary},
	}
	lines := []string{headerStyle.Render("chain (" + backendName + ")")}
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render(r.label), valueStyle.Render(fmt.Sprint(r.value))))
	}
	return writeLines(w, lines)
}

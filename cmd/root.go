package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/agentic-research/markov/api"
	"github.com/agentic-research/markov/internal/backend"
	"github.com/agentic-research/markov/internal/config"
	"github.com/agentic-research/markov/internal/ingest"
	"github.com/agentic-research/markov/internal/logger"
	"github.com/spf13/cobra"
)

var (
	backendName string
	configPath  string
	overrides   []string
	jobs        int
	cacheOp     string
	cacheFile   string
	outputPath  string
	noEnd       bool
	logMode     string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&backendName, "backend", "b", "memory", "storage backend (see `markov backends`)")
	pf.StringVarP(&configPath, "config", "C", "", "config file (.toml, .conf, .ini, .yaml, .yml)")
	pf.StringArrayVarP(&overrides, "set", "p", nil, "override an option as key=value (repeatable)")
	pf.IntVarP(&jobs, "jobs", "j", 1, "maximum number of files trained at once")
	pf.StringVarP(&cacheFile, "cache-file", "f", "", "cache file for the memory backend")
	pf.StringVar(&logMode, "log-mode", "quiet", "log mode: quiet, dev or prod")

	rootCmd.Flags().StringVarP(&cacheOp, "cache", "c", "", "cache operation: r=read, w=write, a=append (needs --cache-file)")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write generated text to this file instead of stdout")
	rootCmd.Flags().BoolVar(&noEnd, "no-end", false, "do not write a newline after the generated text")
}

var rootCmd = &cobra.Command{
	Use:   "markov [input files...]",
	Short: "Markov chain text generator",
	Long: `markov trains an order-N Markov chain on the tokens of the input files and
generates a new sequence from it. The chain lives in memory (optionally cached
to a file) or in a SQLite, PostgreSQL or MySQL database.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		mode, err := ingest.ParseCacheMode(cacheOp)
		if err != nil {
			return err
		}
		env, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		e, err := ingest.NewEngine(env.backend, ingest.Config{
			Files:     args,
			Jobs:      jobs,
			Cache:     mode,
			CacheFile: cacheFile,
			NoEnd:     noEnd,
		}, env.log)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if outputPath != "" {
			f, ferr := os.Create(outputPath)
			if ferr != nil {
				return fmt.Errorf("%w: open output: %w", api.ErrInput, ferr)
			}
			defer func() {
				if cerr := f.Close(); err == nil && cerr != nil {
					err = cerr
				}
			}()
			out = f
		}
		_, err = e.Run(cmd.Context(), out)
		return err
	},
}

// runEnv is what every command needs: a logger and a ready backend.
type runEnv struct {
	log     *logger.Logger
	opts    *api.Options
	backend backend.Backend
}

func setup(ctx context.Context) (*runEnv, error) {
	log, err := logger.New(logMode)
	if err != nil {
		return nil, err
	}
	opts, err := config.Resolve(configPath, overrides)
	if err != nil {
		log.Sync()
		return nil, err
	}
	log.Debug("options resolved", "backend", backendName, "N", opts.N, "endpoint", opts.Storage.Endpoint)

	b, err := backend.New(ctx, backendName, *opts, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return &runEnv{log: log, opts: opts, backend: b}, nil
}

func (e *runEnv) close() {
	if err := e.backend.Close(); err != nil {
		e.log.Warn("close backend", "error", err)
	}
	e.log.Sync()
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// writeLines is used by the listing commands.
func writeLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

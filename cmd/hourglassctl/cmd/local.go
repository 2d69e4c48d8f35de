package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/seantiz/hourglass/internal/config"
	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/search"
	"github.com/seantiz/hourglass/internal/searchspace"
	"github.com/seantiz/hourglass/internal/timekeeper"
)

// localOptions configures an in-process search.
type localOptions struct {
	SpacePath   string
	Algorithms  []string
	TotalTime   time.Duration
	SearchLimit time.Duration
	MaxEvals    int
	Seed        int64
	Cost        time.Duration
	Verbose     bool
}

var localOpts localOptions

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run a time-budgeted search in-process",
	Long: `Run a search with the synthetic evaluator in this process, without a
server, and print the time taken by each phase against its limit.`,
	Example: `  hourglassctl local --total-time 2s
  hourglassctl local --search-limit 500ms --algorithm SVC --seed 42`,
	RunE: runLocal,
}

func init() {
	rootCmd.AddCommand(localCmd)

	localCmd.Flags().StringVar(&localOpts.SpacePath, "space", "", "search space YAML file (default is the built-in table)")
	localCmd.Flags().StringSliceVar(&localOpts.Algorithms, "algorithm", nil, "algorithm to search (repeatable; default is all)")
	localCmd.Flags().DurationVar(&localOpts.TotalTime, "total-time", 0, "total time budget")
	localCmd.Flags().DurationVar(&localOpts.SearchLimit, "search-limit", 0, "time limit for the search phase")
	localCmd.Flags().IntVar(&localOpts.MaxEvals, "max-evals", 0, "maximum number of evaluations")
	localCmd.Flags().Int64Var(&localOpts.Seed, "seed", 1, "random seed")
	localCmd.Flags().DurationVar(&localOpts.Cost, "cost", 20*time.Millisecond, "simulated cost of one evaluation")
	localCmd.Flags().BoolVarP(&localOpts.Verbose, "verbose", "v", false, "log activities to stderr")
}

func runLocal(cmd *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if localOpts.Verbose {
		level = slog.LevelInfo
	}
	logger := config.NewLogger(os.Stderr, level)

	report, err := localSearch(cmd.Context(), localOpts, logger)
	if report == nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		if jerr := printJSON(out, localResult(report, err)); jerr != nil {
			return jerr
		}
		return err
	}
	if rerr := renderReport(out, report); rerr != nil {
		return rerr
	}
	return err
}

// localSearch runs one search against a fresh keeper. The report is nil
// only when the search could not be set up.
func localSearch(ctx context.Context, opts localOptions, logger *slog.Logger) (*search.Report, error) {
	space, err := loadSpace(opts.SpacePath)
	if err != nil {
		return nil, err
	}

	keeper := timekeeper.New(opts.TotalTime, timekeeper.WithLogger(logger))
	driver := search.NewDriver(space, evaluator.NewSynthetic(opts.Cost), logger)

	return driver.Run(ctx, keeper, search.Params{
		Algorithms:     opts.Algorithms,
		SearchLimit:    opts.SearchLimit,
		MaxEvaluations: opts.MaxEvals,
		Seed:           opts.Seed,
	})
}

func loadSpace(path string) (*searchspace.Space, error) {
	if path == "" {
		return searchspace.Default()
	}
	return searchspace.Load(path)
}

type phaseJSON struct {
	Name          string   `json:"name"`
	TimeLimitS    *float64 `json:"time_limit_s,omitempty"`
	ElapsedS      float64  `json:"elapsed_s"`
	ExceededLimit bool     `json:"exceeded_limit"`
}

type localJSON struct {
	Phases      []phaseJSON            `json:"phases"`
	Evaluations int                    `json:"evaluations"`
	Failed      int                    `json:"failed"`
	StopReason  string                 `json:"stop_reason,omitempty"`
	Best        *searchspace.Candidate `json:"best,omitempty"`
	BestScore   *float64               `json:"best_score,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func localResult(r *search.Report, runErr error) localJSON {
	out := localJSON{
		Phases:      make([]phaseJSON, 0, len(r.Phases)),
		Evaluations: len(r.Evaluations),
		Failed:      failedEvaluations(r),
		StopReason:  r.StopReason,
	}
	for _, p := range r.Phases {
		pj := phaseJSON{Name: p.Name, ElapsedS: p.Elapsed.Seconds(), ExceededLimit: p.ExceededLimit}
		if p.TimeLimit > 0 {
			s := p.TimeLimit.Seconds()
			pj.TimeLimitS = &s
		}
		out.Phases = append(out.Phases, pj)
	}
	if r.Best != nil {
		out.Best = &r.Best.Candidate
		out.BestScore = &r.Best.Score
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return out
}

// renderReport prints the phase table followed by a summary of the search.
func renderReport(w io.Writer, r *search.Report) error {
	table := tablewriter.NewWriter(w)
	table.Header("Phase", "Limit", "Elapsed", "Exceeded")
	for _, p := range r.Phases {
		limit := "-"
		if p.TimeLimit > 0 {
			limit = p.TimeLimit.Round(time.Millisecond).String()
		}
		table.Append(p.Name, limit, p.Elapsed.Round(time.Millisecond).String(), strconv.FormatBool(p.ExceededLimit))
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nEvaluations: %d (%d failed)\n", len(r.Evaluations), failedEvaluations(r))
	if r.StopReason != "" {
		fmt.Fprintf(w, "Stopped by:  %s\n", r.StopReason)
	}
	if r.Best != nil {
		fmt.Fprintf(w, "Best:        %s\n", r.Best.Candidate)
		fmt.Fprintf(w, "Score:       %.4f\n", r.Best.Score)
	}
	return nil
}

func failedEvaluations(r *search.Report) int {
	n := 0
	for _, e := range r.Evaluations {
		if e.Err != nil {
			n++
		}
	}
	return n
}

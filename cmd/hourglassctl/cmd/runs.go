package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/seantiz/hourglass/internal/model"
)

var (
	listLimit  int
	listOffset int

	submitEvaluator   string
	submitAlgorithms  []string
	submitTotalTime   time.Duration
	submitSearchLimit time.Duration
	submitMaxEvals    int
	submitSeed        int64
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage search runs",
	Long:  `Commands for submitting, listing, inspecting and cancelling search runs.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE:  runRunsList,
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show a single run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

var runsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new search run",
	Long: `Submit a search run. At least one stopping criterion is required:
--total-time, --search-limit or --max-evals.`,
	Example: `  hourglassctl runs submit --total-time 30s --algorithm SVC --algorithm KNeighborsClassifier
  hourglassctl runs submit --max-evals 50 --seed 7`,
	RunE: runRunsSubmit,
}

var runsActivitiesCmd = &cobra.Command{
	Use:   "activities <run-id>",
	Short: "Show the timed activities of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsActivities,
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a running search",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsCancel,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsGetCmd)
	runsCmd.AddCommand(runsSubmitCmd)
	runsCmd.AddCommand(runsActivitiesCmd)
	runsCmd.AddCommand(runsCancelCmd)

	runsListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of runs to show")
	runsListCmd.Flags().IntVar(&listOffset, "offset", 0, "number of runs to skip")

	runsSubmitCmd.Flags().StringVar(&submitEvaluator, "evaluator", "", "evaluator name (default is the server default)")
	runsSubmitCmd.Flags().StringSliceVar(&submitAlgorithms, "algorithm", nil, "algorithm to search (repeatable; default is all)")
	runsSubmitCmd.Flags().DurationVar(&submitTotalTime, "total-time", 0, "total time budget for the run")
	runsSubmitCmd.Flags().DurationVar(&submitSearchLimit, "search-limit", 0, "time limit for the search phase")
	runsSubmitCmd.Flags().IntVar(&submitMaxEvals, "max-evals", 0, "maximum number of evaluations")
	runsSubmitCmd.Flags().Int64Var(&submitSeed, "seed", 0, "random seed (default is chosen by the server)")
}

type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// submitRequest mirrors the server's run creation body.
type submitRequest struct {
	Evaluator      string   `json:"evaluator,omitempty"`
	Algorithms     []string `json:"algorithms,omitempty"`
	TotalTimeS     *float64 `json:"total_time_s,omitempty"`
	SearchLimitS   *float64 `json:"search_limit_s,omitempty"`
	MaxEvaluations *int     `json:"max_evaluations,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(listLimit))
	q.Set("offset", strconv.Itoa(listOffset))

	var result listRunsResponse
	if err := doRequest(cmd.Context(), http.MethodGet, "/v1/runs?"+q.Encode(), nil, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, result)
	}

	if len(result.Runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Status", "Evaluator", "Evals", "Best", "Duration", "Created")
	for _, r := range result.Runs {
		table.Append(
			r.ID,
			r.Status,
			r.Evaluator,
			strconv.Itoa(r.Evaluations),
			formatScore(r.BestScore),
			formatMillis(r.DurationMS),
			r.CreatedAt.Format(time.RFC3339),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nShowing %d of %d runs\n", len(result.Runs), result.Total)
	return nil
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	var run model.Run
	if err := doRequest(cmd.Context(), http.MethodGet, "/v1/runs/"+url.PathEscape(args[0]), nil, &run); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), run)
	}
	return renderRun(cmd.OutOrStdout(), &run)
}

func runRunsSubmit(cmd *cobra.Command, _ []string) error {
	req := submitRequest{
		Evaluator:  submitEvaluator,
		Algorithms: submitAlgorithms,
	}
	if submitTotalTime > 0 {
		s := submitTotalTime.Seconds()
		req.TotalTimeS = &s
	}
	if submitSearchLimit > 0 {
		s := submitSearchLimit.Seconds()
		req.SearchLimitS = &s
	}
	if submitMaxEvals > 0 {
		req.MaxEvaluations = &submitMaxEvals
	}
	if cmd.Flags().Changed("seed") {
		req.Seed = &submitSeed
	}

	var run model.Run
	if err := doRequest(cmd.Context(), http.MethodPost, "/v1/runs", req, &run); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, run)
	}
	fmt.Fprintf(out, "Run submitted: %s (status %s, seed %d)\n", run.ID, run.Status, run.Seed)
	return nil
}

func runRunsActivities(cmd *cobra.Command, args []string) error {
	var acts []model.ActivityRecord
	path := "/v1/runs/" + url.PathEscape(args[0]) + "/activities"
	if err := doRequest(cmd.Context(), http.MethodGet, path, nil, &acts); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, acts)
	}
	if len(acts) == 0 {
		fmt.Fprintln(out, "No activities recorded")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("Seq", "Activity", "Limit", "Elapsed", "Exceeded", "Error")
	for _, a := range acts {
		table.Append(
			strconv.Itoa(a.Seq),
			a.Name,
			formatMillis(a.TimeLimitMS),
			formatMillis(&a.ElapsedMS),
			strconv.FormatBool(a.ExceededLimit),
			a.Error,
		)
	}
	return table.Render()
}

func runRunsCancel(cmd *cobra.Command, args []string) error {
	var run model.Run
	if err := doRequest(cmd.Context(), http.MethodDelete, "/v1/runs/"+url.PathEscape(args[0]), nil, &run); err != nil {
		return err
	}
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), run)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for run %s\n", run.ID)
	return nil
}

func renderRun(w io.Writer, r *model.Run) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	table.Append("ID", r.ID)
	table.Append("Status", r.Status)
	table.Append("Evaluator", r.Evaluator)
	algorithms := "all"
	if len(r.Algorithms) > 0 {
		algorithms = strings.Join(r.Algorithms, ", ")
	}
	table.Append("Algorithms", algorithms)
	table.Append("Total Time", formatMillis(r.TotalTimeMS))
	table.Append("Search Limit", formatMillis(r.SearchLimitMS))
	if r.MaxEvaluations != nil {
		table.Append("Max Evaluations", strconv.Itoa(*r.MaxEvaluations))
	}
	table.Append("Seed", strconv.FormatInt(r.Seed, 10))
	table.Append("Evaluations", strconv.Itoa(r.Evaluations))
	if r.BestAlgorithm != "" {
		table.Append("Best Algorithm", r.BestAlgorithm)
		table.Append("Best Params", r.BestParams)
		table.Append("Best Score", formatScore(r.BestScore))
	}
	table.Append("Duration", formatMillis(r.DurationMS))
	if r.Error != "" {
		table.Append("Error", r.Error)
	}
	table.Append("Created At", r.CreatedAt.Format(time.RFC3339))
	if r.FinishedAt != nil {
		table.Append("Finished At", r.FinishedAt.Format(time.RFC3339))
	}

	return table.Render()
}

func formatMillis(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

func formatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return strconv.FormatFloat(*s, 'f', 4, 64)
}

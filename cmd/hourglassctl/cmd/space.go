package cmd

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/searchspace"
)

// spaceCmd represents the space command
var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Inspect the search space",
}

var spaceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the algorithms and parameters the server searches",
	RunE:  runSpaceShow,
}

var evaluatorsCmd = &cobra.Command{
	Use:   "evaluators",
	Short: "List the evaluators registered on the server",
	RunE:  runEvaluators,
}

func init() {
	rootCmd.AddCommand(spaceCmd)
	spaceCmd.AddCommand(spaceShowCmd)
	rootCmd.AddCommand(evaluatorsCmd)
}

type algorithmSummary struct {
	searchspace.Algorithm
	Size int `json:"size"`
}

func runSpaceShow(cmd *cobra.Command, _ []string) error {
	var algs []algorithmSummary
	if err := doRequest(cmd.Context(), http.MethodGet, "/v1/searchspace", nil, &algs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, algs)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Algorithm", "Kind", "Parameters", "Combinations")
	total := 0
	for _, a := range algs {
		table.Append(a.Name, string(a.Kind), paramSummary(a.Params), strconv.Itoa(a.Size))
		if a.Size > math.MaxInt-total {
			total = math.MaxInt
		} else {
			total += a.Size
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d algorithms, %d combinations\n", len(algs), total)
	return nil
}

func runEvaluators(cmd *cobra.Command, _ []string) error {
	var entries []evaluator.Entry
	if err := doRequest(cmd.Context(), http.MethodGet, "/v1/evaluators", nil, &entries); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if IsJSONOutput() {
		return printJSON(out, entries)
	}

	table := tablewriter.NewWriter(out)
	table.Header("Name", "Metric", "Description")
	for _, e := range entries {
		table.Append(e.Name, e.Info.Metric, e.Info.Description)
	}
	return table.Render()
}

// paramSummary renders "name(n)" for each parameter, sorted by name.
func paramSummary(params map[string][]any) string {
	if len(params) == 0 {
		return "-"
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s(%d)", name, len(params[name]))
	}
	return strings.Join(parts, " ")
}

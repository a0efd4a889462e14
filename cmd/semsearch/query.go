package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/semsearch/internal/app"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
)

type queryFlags struct {
	text     string
	k        int
	minScore float64
	filters  []string
	json     bool
}

func newQueryCmd(g *globals) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one semantic query and print the results",
		Long: `Embed the query, search the configured vector store and print the ranked results.

Examples:
  semsearch query -q "how to control blood sugar"
  semsearch query -q "sleep and mood" -k 5 --min-score 0.5 --filter source=cdc.gov --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var minScore *float64
			if cmd.Flags().Changed("min-score") {
				minScore = &f.minScore
			}
			expr, err := parseFilters(f.filters)
			if err != nil {
				return err
			}
			q, err := query.New(f.text, f.k, minScore, expr)
			if err != nil {
				return err
			}

			a, err := app.Build(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			payload, err := a.Pipeline.Run(cmd.Context(), q)
			if err != nil {
				return err
			}
			if f.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}
			printPayload(cmd.OutOrStdout(), payload)
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.text, "query", "q", "", "query text (required)")
	cmd.Flags().IntVarP(&f.k, "top-k", "k", 0, "number of results (default from config)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", 0, "minimum similarity in [0, 1] (default from config)")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "metadata equality filter key=value, repeatable")
	cmd.Flags().BoolVar(&f.json, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// parseFilters turns key=value pairs into must-match conditions.
func parseFilters(pairs []string) (filter.Expression, error) {
	if len(pairs) == 0 {
		return filter.Expression{}, nil
	}
	must := make([]filter.Condition, 0, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return filter.Expression{}, fmt.Errorf("invalid --filter %q: expected key=value", p)
		}
		c, err := filter.NewMatch(strings.TrimSpace(key), strings.TrimSpace(value))
		if err != nil {
			return filter.Expression{}, err
		}
		must = append(must, c)
	}
	return filter.NewExpression(must, nil, nil)
}

func printPayload(w io.Writer, p response.Payload) {
	if len(p.Results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	for i, r := range p.Results {
		fmt.Fprintf(w, "%d. %s (score %.4f)\n", i+1, r.ID(), r.Score())
		if content, ok := r[response.FieldContent].(string); ok && content != "" {
			fmt.Fprintf(w, "   %s\n", content)
		}
	}
	if len(p.Sources) > 0 {
		fmt.Fprintf(w, "\nSources: %s\n", strings.Join(p.Sources, ", "))
	}
}

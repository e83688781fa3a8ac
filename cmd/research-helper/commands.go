package main

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikeboe/research-agent/pkg/research"
)

func init() {
	expandCmd.Flags().Bool("stream", false, "print the model output as it arrives")
	analyzeCmd.Flags().Bool("stream", false, "print the model output as it arrives")
	answerCmd.Flags().Bool("stream", false, "print the model output as it arrives")
	answerCmd.Flags().StringSlice("url", nil, "source URL to fetch and answer from (repeatable)")
	searchCmd.Flags().Bool("stream", false, "print each query's new results as soon as it completes")

	rootCmd.AddCommand(expandCmd, analyzeCmd, searchCmd, fetchCmd, answerCmd, runCmd)
}

func questionArg(args []string) (string, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return "", fmt.Errorf("a question is required")
	}
	return q, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func streamOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("stream")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStream(w io.Writer, seq iter.Seq2[string, error]) error {
	for chunk, err := range seq {
		if err != nil {
			return err
		}
		fmt.Fprint(w, chunk)
	}
	fmt.Fprintln(w)
	return nil
}

func printList(w io.Writer, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", heading)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

var expandCmd = &cobra.Command{
	Use:   "expand <question>",
	Short: "Generate search queries for a question",
	RunE: func(cmd *cobra.Command, args []string) error {
		question, err := questionArg(args)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if streamOutput(cmd) {
			return printStream(out, s.engine.ExpandStream(cmd.Context(), question))
		}
		queries, err := s.engine.Expand(cmd.Context(), question)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(out, queries)
		}
		for _, q := range queries {
			fmt.Fprintln(out, q)
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <question>",
	Short: "Break a question into what a complete answer must cover",
	RunE: func(cmd *cobra.Command, args []string) error {
		question, err := questionArg(args)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if streamOutput(cmd) {
			return printStream(out, s.engine.AnalyzeScopeStream(cmd.Context(), question))
		}
		analysis, check, err := s.engine.AnalyzeQuestion(cmd.Context(), question)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(out, map[string]any{"analysis": analysis, "current_events": check})
		}
		fmt.Fprintf(out, "Needs current context: %t (%s)\n", check.RequiresCurrentContext, check.Reasoning)
		printList(out, "Key components", analysis.KeyComponents)
		printList(out, "Scope boundaries", analysis.ScopeBoundaries)
		printList(out, "Success criteria", analysis.SuccessCriteria)
		printList(out, "Conflicting viewpoints", analysis.ConflictingViewpoints)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query> [query...]",
	Short: "Search several queries and rank the merged results",
	Long:  "Each argument is one query. Results are scored for relevance against the query that found them.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if streamOutput(cmd) {
			for batch, err := range s.engine.ExecuteQueriesStream(cmd.Context(), args) {
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					if err := json.NewEncoder(out).Encode(batch); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "# %s\n", batch.Query)
				printResults(out, batch.Results)
			}
			return nil
		}

		results, err := s.engine.ExecuteQueries(cmd.Context(), args)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(out, results)
		}
		printResults(out, results)
		return nil
	},
}

func printResults(w io.Writer, results []research.SearchResult) {
	for _, r := range results {
		fmt.Fprintf(w, "%5.1f  %s\n       %s\n", r.RelevanceScore, r.Title, r.Link)
	}
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url> [url...]",
	Short: "Download pages and print their main text as markdown",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		sources := s.engine.Fetcher.FetchAll(cmd.Context(), args)
		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			return printJSON(out, sources)
		}
		for _, src := range sources {
			if !src.OK() {
				fmt.Fprintf(out, "## %s\n\nerror: %s\n\n", src.URL, src.Error)
				continue
			}
			fmt.Fprintf(out, "## %s\n<%s>\n\n%s\n\n", src.Title, src.URL, src.Markdown())
		}
		return nil
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <question>",
	Short: "Answer a question from the given source URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		question, err := questionArg(args)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		urls, _ := cmd.Flags().GetStringSlice("url")
		sources := []research.URLContent{}
		if len(urls) > 0 {
			sources = s.engine.Fetcher.FetchAll(cmd.Context(), urls)
		}

		out := cmd.OutOrStdout()
		if streamOutput(cmd) {
			return printStream(out, s.engine.SynthesizeAnswerStream(cmd.Context(), question, sources))
		}
		answer, err := s.engine.SynthesizeAnswer(cmd.Context(), question, sources)
		if err != nil {
			return err
		}
		if jsonOutput(cmd) {
			return printJSON(out, answer)
		}
		printAnswer(out, answer)
		return nil
	},
}

func printAnswer(w io.Writer, a research.ResearchAnswer) {
	fmt.Fprintf(w, "%s\n\nConfidence: %.0f/100\n", a.Answer, a.ConfidenceScore)
	printList(w, "Sources", a.SourcesUsed)
}

var runCmd = &cobra.Command{
	Use:   "run <question>",
	Short: "Run the full research pipeline for a question",
	RunE: func(cmd *cobra.Command, args []string) error {
		question, err := questionArg(args)
		if err != nil {
			return err
		}
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		s.engine.OnStateUpdate = func(state research.ResearchState) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", state.UpdatedAt.Format("15:04:05"), state.Stage)
		}
		report, runErr := s.engine.Run(cmd.Context(), question)

		out := cmd.OutOrStdout()
		if jsonOutput(cmd) {
			if err := printJSON(out, report); err != nil {
				return err
			}
			return runErr
		}
		if runErr != nil {
			return runErr
		}
		printAnswer(out, report.Answer)
		ev := report.Evaluation
		fmt.Fprintf(out, "\nEvaluation: overall %.0f (completeness %.0f, accuracy %.0f, relevance %.0f)\n",
			ev.OverallScore, ev.CompletenessScore, ev.AccuracyScore, ev.RelevanceScore)
		printList(out, "Missing aspects", ev.MissingAspects)
		printList(out, "Suggestions", ev.ImprovementSuggestions)
		return nil
	},
}

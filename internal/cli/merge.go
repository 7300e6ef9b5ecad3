package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mergegate/internal/attempt"
	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/merge"
	"github.com/lucasnoah/mergegate/internal/report"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>",
	Short: "Merge a branch once its CI pipeline is verified green",
	Long: `Pins the branch head (or --sha) and waits for the CI pipeline of that exact
commit. Failing jobs are classified; fixable categories are fixed, pushed and
re-polled up to the configured bound. After job-level verification a trial
merge runs the dry-run test command against the target, then the branch is
merged and cleaned up.

Exits non-zero when the attempt aborts; the report names the reason and the
failing job.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := merge.Request{Branch: args[0]}
		req.SHA, _ = cmd.Flags().GetString("sha")
		req.Target, _ = cmd.Flags().GetString("target")
		strategy, err := strategyFlag(cmd)
		if err != nil {
			return err
		}
		req.Strategy = strategy

		ex, cleanup, err := mergeDeps(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		out, err := ex.Execute(cmd.Context(), req)
		if out == nil {
			return err
		}
		if rerr := writeOutcome(cmd, out, err); rerr != nil {
			return rerr
		}
		return err
	},
}

var overrideCmd = &cobra.Command{
	Use:   "override <branch>",
	Short: "Merge a branch without the CI gate (requires authorization)",
	Long: `Records an explicitly authorized merge outside the automated gate. CI status,
auto-fix and the dry run are skipped; the decision is marked as an override
with the authorizer and reason.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := merge.OverrideRequest{Branch: args[0]}
		req.SHA, _ = cmd.Flags().GetString("sha")
		req.Target, _ = cmd.Flags().GetString("target")
		req.Reason, _ = cmd.Flags().GetString("reason")
		req.AuthorizedBy, _ = cmd.Flags().GetString("authorized-by")
		strategy, err := strategyFlag(cmd)
		if err != nil {
			return err
		}
		req.Strategy = strategy

		ex, cleanup, err := mergeDeps(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		out, err := ex.Override(cmd.Context(), req)
		if out == nil {
			return err
		}
		if rerr := writeOutcome(cmd, out, err); rerr != nil {
			return rerr
		}
		return err
	},
}

func strategyFlag(cmd *cobra.Command) (ci.MergeStrategy, error) {
	s, _ := cmd.Flags().GetString("strategy")
	if s == "" {
		return "", nil
	}
	strategy, ok := ci.ParseStrategy(s)
	if !ok {
		return "", fmt.Errorf("unknown strategy %q (want squash, merge or rebase)", s)
	}
	return strategy, nil
}

// outcomeJSON is the --format json shape of a merge result.
type outcomeJSON struct {
	Decision    *ci.MergeDecision  `json:"decision,omitempty"`
	Diagnostics *merge.Diagnostics `json:"diagnostics,omitempty"`
	Attempt     *attempt.Context   `json:"attempt"`
}

func writeOutcome(cmd *cobra.Command, out *merge.Outcome, runErr error) error {
	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		o := outcomeJSON{Decision: out.Decision, Diagnostics: abortDiagnostics(runErr), Attempt: out.Attempt}
		if out.Decision == nil && out.Attempt != nil {
			o.Decision = out.Attempt.Decision
		}
		return writeJSON(cmd, o)
	}

	if out.Attempt == nil {
		return nil
	}
	w := cmd.OutOrStdout()
	if err := report.Render(w, report.Markdown(out.Attempt)); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, report.StatusLine(out.Attempt))
	for _, line := range report.Warnings(out.Attempt) {
		fmt.Fprintln(w, line)
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// abortDiagnostics extracts the diagnostics of an aborted attempt.
func abortDiagnostics(err error) *merge.Diagnostics {
	var ae *merge.AbortError
	if errors.As(err, &ae) {
		return &ae.Diagnostics
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{mergeCmd, overrideCmd} {
		c.Flags().String("sha", "", "commit to merge (default: remote branch head)")
		c.Flags().String("target", "", "target branch (default from config)")
		c.Flags().String("strategy", "", "merge strategy: squash, merge or rebase (default from config)")
		c.Flags().String("format", "text", "Output format: text or json")
	}
	overrideCmd.Flags().String("reason", "", "why the gate is being bypassed (required)")
	overrideCmd.Flags().String("authorized-by", "", "who authorized the override (required)")
	_ = overrideCmd.MarkFlagRequired("reason")
	_ = overrideCmd.MarkFlagRequired("authorized-by")
}

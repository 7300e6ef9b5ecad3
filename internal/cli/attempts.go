package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mergegate/internal/report"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect recorded merge attempts",
}

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List merge attempts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, _, cleanup, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		branch, _ := cmd.Flags().GetString("branch")
		attempts, err := store.List(cmd.Context(), branch)
		if err != nil {
			return fmt.Errorf("list attempts: %w", err)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, attempts)
		}
		if len(attempts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No merge attempts found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBRANCH\tTARGET\tSTATE\tFIXES\tAGE\tREASON")
		for _, a := range attempts {
			reason := ""
			if a.Decision != nil {
				reason = a.Decision.Reason
			}
			if len(reason) > 50 {
				reason = reason[:47] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				shortID(a.ID), a.Branch, a.Target, a.State, len(a.History),
				formatDuration(time.Since(a.UpdatedAt)), reason)
		}
		return w.Flush()
	},
}

var attemptsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one merge attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, database, cleanup, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		a, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, a)
		}
		out := cmd.OutOrStdout()
		if err := report.Render(out, report.Markdown(a)); err != nil {
			return err
		}

		events, _ := cmd.Flags().GetBool("events")
		if !events {
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nAT\tFROM\tTO\tNOTE")
		if database == nil {
			for _, t := range a.Transitions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.At.Format(time.RFC3339), t.From, t.To, t.Note)
			}
			return w.Flush()
		}
		rows, err := database.Events(cmd.Context(), a.ID)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		for _, e := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.At.Format(time.RFC3339), e.From, e.To, e.Note)
		}
		fixes, err := database.FixAttempts(cmd.Context(), a.ID)
		if err != nil {
			return fmt.Errorf("load fix attempts: %w", err)
		}
		if len(fixes) > 0 {
			fmt.Fprintln(w, "\n#\tCATEGORY\tFINGERPRINT\tOUTCOME")
			for _, f := range fixes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.AttemptNumber, f.Category, f.Fingerprint, f.Outcome)
			}
		}
		return w.Flush()
	},
}

func init() {
	attemptsListCmd.Flags().String("branch", "", "only attempts for this branch")
	attemptsListCmd.Flags().String("format", "text", "Output format: text or json")
	attemptsShowCmd.Flags().String("format", "text", "Output format: text or json")
	attemptsShowCmd.Flags().Bool("events", false, "include the transition log")
	attemptsCmd.AddCommand(attemptsListCmd)
	attemptsCmd.AddCommand(attemptsShowCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

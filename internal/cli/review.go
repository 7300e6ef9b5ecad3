package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mergegate/internal/report"
	"github.com/lucasnoah/mergegate/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work with code-review bot output",
}

var reviewParseCmd = &cobra.Command{
	Use:   "parse <file|->",
	Short: "Normalize CodeRabbit, Qodo or Codacy output into findings",
	Long: `Parses raw bot JSON into findings ordered by severity. Exits non-zero when
any finding is at or above --block-on (default from config, else major).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open review output: %w", err)
			}
			defer f.Close()
			r = f
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read review output: %w", err)
		}

		src, _ := cmd.Flags().GetString("source")
		findings, err := review.NewRegistry().Parse(review.Source(src), raw)
		if err != nil {
			return err
		}

		threshold, err := blockOn(cmd)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if err := writeJSON(cmd, findings); err != nil {
				return err
			}
		} else if err := report.Render(cmd.OutOrStdout(), report.FindingsMarkdown(findings)); err != nil {
			return err
		}

		if n := len(review.Blocking(findings, threshold)); n > 0 {
			return fmt.Errorf("%d finding(s) at or above %s", n, threshold)
		}
		return nil
	},
}

func blockOn(cmd *cobra.Command) (review.Severity, error) {
	s, _ := cmd.Flags().GetString("block-on")
	if s == "" {
		s = string(review.SeverityMajor)
		if cfg, _, err := loadConfig(); err == nil {
			s = cfg.Review.BlockOn
		}
	}
	sev, ok := review.ParseSeverity(s)
	if !ok {
		return "", fmt.Errorf("unknown severity %q (want info, minor, major or critical)", s)
	}
	return sev, nil
}

func init() {
	reviewParseCmd.Flags().String("source", "", "bot that produced the output: coderabbit, qodo or codacy")
	reviewParseCmd.Flags().String("block-on", "", "severity at which findings fail the command")
	reviewParseCmd.Flags().String("format", "text", "Output format: text or json")
	_ = reviewParseCmd.MarkFlagRequired("source")
	reviewCmd.AddCommand(reviewParseCmd)
}

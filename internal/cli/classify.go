package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/classify"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [file|-]",
	Short: "Classify a failing job log",
	Long: `Reads a CI job log from a file or stdin and prints the failure category,
whether it would be fixed automatically, and the files the log references.
require_human_for is taken from the config when one is found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open log: %w", err)
			}
			defer f.Close()
			r = f
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}

		human := []ci.Category{ci.CategoryInfrastructure}
		if cfg, _, err := loadConfig(); err == nil {
			human = requireHuman(cfg)
		} else if configPath != "" {
			return err
		}

		fc := classify.New(human).Classify(ci.Tail(string(data), ci.MaxLogExcerpt))

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, fc)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "category:     %s\n", fc.Category)
		fmt.Fprintf(w, "auto-fixable: %t\n", fc.AutoFixable)
		fmt.Fprintf(w, "confidence:   %s\n", fc.Confidence)
		fmt.Fprintf(w, "severity:     %s\n", fc.Severity)
		if fc.Signature != "" {
			fmt.Fprintf(w, "signature:    %s\n", fc.Signature)
		}
		if len(fc.Files) > 0 {
			fmt.Fprintf(w, "files:        %s\n", strings.Join(fc.Files, ", "))
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().String("format", "text", "Output format: text or json")
}

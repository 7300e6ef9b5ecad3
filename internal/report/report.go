// Package report renders merge attempts and review findings for people.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/lucasnoah/mergegate/internal/attempt"
	"github.com/lucasnoah/mergegate/internal/ci"
	"github.com/lucasnoah/mergegate/internal/review"
)

var (
	approvedColor = color.New(color.FgGreen, color.Bold)
	abortedColor  = color.New(color.FgRed, color.Bold)
	warnColor     = color.New(color.FgYellow)
	dimColor      = color.New(color.FgHiBlack)
)

const maxWrap = 100

// Markdown renders one attempt as a markdown document.
func Markdown(c *attempt.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Merge %s → %s\n\n", c.Branch, c.Target)
	fmt.Fprintf(&b, "- **Attempt:** `%s`\n", c.ID)
	fmt.Fprintf(&b, "- **State:** %s\n", c.State)
	if c.Revision != nil {
		fmt.Fprintf(&b, "- **Revision:** `%s`\n", c.Revision.SHA)
	}
	if c.Run != nil && c.Run.WebURL != "" {
		fmt.Fprintf(&b, "- **Pipeline:** %s\n", c.Run.WebURL)
	}

	if d := c.Decision; d != nil {
		b.WriteString("\n## Decision\n\n")
		verdict := "approved"
		if !d.Approved {
			verdict = "not approved"
		}
		fmt.Fprintf(&b, "**%s**: %s\n\n", verdict, d.Reason)
		fmt.Fprintf(&b, "- Strategy: %s\n", d.Strategy)
		if d.MergedSHA != "" {
			fmt.Fprintf(&b, "- Merged SHA: `%s`\n", d.MergedSHA)
		}
		if d.Override {
			fmt.Fprintf(&b, "- Manual override authorized by %s\n", d.AuthorizedBy)
		}
	}

	if a := c.Abort; a != nil {
		b.WriteString("\n## Abort\n\n")
		fmt.Fprintf(&b, "Aborted while **%s**: %s\n\n", a.State, a.Reason)
		if a.Error != "" {
			fmt.Fprintf(&b, "- Error: %s\n", a.Error)
		}
		if a.FailingJob != "" {
			fmt.Fprintf(&b, "- Failing job: `%s`\n", a.FailingJob)
		}
		if c.Failure != nil {
			fmt.Fprintf(&b, "- Category: %s (auto-fixable: %t, severity: %s)\n",
				c.Failure.Category, c.Failure.AutoFixable, c.Failure.Severity)
		}
		if a.LogExcerpt != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.TrimRight(lastLines(a.LogExcerpt, 40), "\n"))
		}
	}

	if c.Run != nil && len(c.Run.Jobs) > 0 {
		b.WriteString("\n## Jobs\n\n| Job | Conclusion | Duration |\n|---|---|---|\n")
		for _, j := range c.Run.Jobs {
			fmt.Fprintf(&b, "| %s | %s | %.0fs |\n", j.Name, j.Conclusion, j.DurationSeconds)
		}
	}

	if len(c.History) > 0 {
		b.WriteString("\n## Fix attempts\n\n| # | Category | Strategy | Commit | Outcome |\n|---|---|---|---|---|\n")
		for _, f := range c.History {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				f.AttemptNumber, f.Category, f.StrategyApplied, short(f.ResultingCommitSHA), f.Outcome)
		}
	}

	if len(c.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range c.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

// FindingsMarkdown renders review findings grouped by severity.
func FindingsMarkdown(findings []review.Finding) string {
	var b strings.Builder
	s := review.Summarize(findings)
	fmt.Fprintf(&b, "# Review findings (%d)\n", s.Total)
	for _, sev := range []review.Severity{
		review.SeverityCritical, review.SeverityMajor, review.SeverityMinor, review.SeverityInfo,
	} {
		if s.BySeverity[sev] == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s (%d)\n\n", sev, s.BySeverity[sev])
		for _, f := range findings {
			if f.Severity != sev {
				continue
			}
			loc := f.File
			if f.Line > 0 {
				loc = fmt.Sprintf("%s:%d", f.File, f.Line)
			}
			if loc == "" {
				fmt.Fprintf(&b, "- [%s] %s\n", f.Source, f.Title)
			} else {
				fmt.Fprintf(&b, "- [%s] `%s` %s\n", f.Source, loc, f.Title)
			}
		}
	}
	return b.String()
}

// Render writes markdown to w, styled with glamour when w is a terminal.
func Render(w io.Writer, markdown string) error {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		_, err := io.WriteString(w, markdown)
		return err
	}
	width := 80
	if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
		width = min(tw, maxWrap)
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		_, err = io.WriteString(w, markdown)
		return err
	}
	out, err := r.Render(markdown)
	if err != nil {
		out = markdown
	}
	_, err = io.WriteString(w, out)
	return err
}

// StatusLine is a one-line coloured summary of the attempt's outcome.
func StatusLine(c *attempt.Context) string {
	switch {
	case c.Decision != nil && c.Decision.Approved:
		line := approvedColor.Sprintf("✓ merged %s → %s", c.Branch, c.Target)
		if c.Decision.MergedSHA != "" {
			line += dimColor.Sprintf(" (%s)", short(c.Decision.MergedSHA))
		}
		if c.Decision.Override {
			line += warnColor.Sprintf(" [override by %s]", c.Decision.AuthorizedBy)
		}
		return line
	case c.Abort != nil:
		return abortedColor.Sprintf("✗ aborted %s in %s: %s", c.Branch, c.Abort.State, c.Abort.Reason)
	}
	return dimColor.Sprintf("… %s %s", c.Branch, c.State)
}

// Warnings renders each warning on its own coloured line.
func Warnings(c *attempt.Context) []string {
	out := make([]string, 0, len(c.Warnings))
	for _, w := range c.Warnings {
		out = append(out, warnColor.Sprintf("! %s", w))
	}
	return out
}

func short(sha string) string {
	return ci.Revision{SHA: sha}.Short()
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

package review

import (
	"encoding/json"
	"regexp"
	"strings"
)

// CodeRabbitAdapter parses pull request review comments posted by
// CodeRabbit, as returned by the GitHub review comments API.
type CodeRabbitAdapter struct{}

type coderabbitComment struct {
	Path         string `json:"path"`
	Line         int    `json:"line"`
	OriginalLine int    `json:"original_line"`
	Body         string `json:"body"`
	User         struct {
		Login string `json:"login"`
	} `json:"user"`
}

var (
	crBoldRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	// Markers CodeRabbit puts in the first lines of a comment.
	crCriticalRe = regexp.MustCompile(`(?i)critical|security|vulnerab`)
	crMajorRe    = regexp.MustCompile(`(?i)potential issue|bug|error`)
	crMinorRe    = regexp.MustCompile(`(?i)refactor suggestion|verification agent`)
)

func (a *CodeRabbitAdapter) Parse(raw []byte) ([]Finding, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	var out []Finding
	for _, item := range items {
		var c coderabbitComment
		if err := json.Unmarshal(item, &c); err != nil {
			return nil, err
		}
		if c.User.Login != "" && !strings.HasPrefix(c.User.Login, "coderabbit") {
			continue
		}
		line := c.Line
		if line == 0 {
			line = c.OriginalLine
		}
		out = append(out, Finding{
			Source:   SourceCodeRabbit,
			Severity: coderabbitSeverity(c.Body),
			File:     c.Path,
			Line:     line,
			Title:    coderabbitTitle(c.Body),
			Payload:  item,
		})
	}
	return out, nil
}

// coderabbitSeverity reads the label line at the top of the comment.
func coderabbitSeverity(body string) Severity {
	head := body
	if lines := strings.SplitN(body, "\n", 3); len(lines) > 2 {
		head = lines[0] + "\n" + lines[1]
	}
	switch {
	case crCriticalRe.MatchString(head):
		return SeverityCritical
	case crMajorRe.MatchString(head):
		return SeverityMajor
	case crMinorRe.MatchString(head):
		return SeverityMinor
	}
	return SeverityInfo
}

func coderabbitTitle(body string) string {
	if m := crBoldRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, l := range strings.Split(body, "\n") {
		l = strings.Trim(strings.TrimSpace(l), "_*")
		if l != "" {
			return l
		}
	}
	return ""
}

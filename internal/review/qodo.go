package review

import (
	"encoding/json"
	"strings"
)

// QodoAdapter parses Qodo Merge (PR-Agent) review output.
type QodoAdapter struct{}

type qodoOutput struct {
	Review struct {
		KeyIssues        []json.RawMessage `json:"key_issues_to_review"`
		SecurityConcerns string            `json:"security_concerns"`
	} `json:"review"`
}

type qodoIssue struct {
	File      string `json:"relevant_file"`
	Header    string `json:"issue_header"`
	Content   string `json:"issue_content"`
	StartLine int    `json:"start_line"`
}

func (a *QodoAdapter) Parse(raw []byte) ([]Finding, error) {
	var q qodoOutput
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, err
	}
	var out []Finding
	for _, item := range q.Review.KeyIssues {
		var is qodoIssue
		if err := json.Unmarshal(item, &is); err != nil {
			return nil, err
		}
		title := strings.TrimSpace(is.Header)
		if title == "" {
			title = strings.TrimSpace(is.Content)
		}
		sev := SeverityMajor
		switch h := strings.ToLower(is.Header); {
		case strings.Contains(h, "security"):
			sev = SeverityCritical
		case strings.Contains(h, "style"), strings.Contains(h, "nit"):
			sev = SeverityMinor
		}
		out = append(out, Finding{
			Source:   SourceQodo,
			Severity: sev,
			File:     strings.TrimSpace(is.File),
			Line:     is.StartLine,
			Title:    title,
			Payload:  item,
		})
	}

	concern := strings.TrimSpace(q.Review.SecurityConcerns)
	if concern != "" && !strings.HasPrefix(strings.ToLower(concern), "no") {
		payload, _ := json.Marshal(map[string]string{"security_concerns": concern})
		out = append(out, Finding{
			Source:   SourceQodo,
			Severity: SeverityCritical,
			Title:    firstLine(concern),
			Payload:  payload,
		})
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

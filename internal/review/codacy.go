package review

import (
	"encoding/json"
	"strings"
)

// CodacyAdapter parses the Codacy API issue search response.
type CodacyAdapter struct{}

type codacyOutput struct {
	Data []json.RawMessage `json:"data"`
}

type codacyIssue struct {
	FilePath    string `json:"filePath"`
	LineNumber  int    `json:"lineNumber"`
	Message     string `json:"message"`
	PatternInfo struct {
		ID       string `json:"id"`
		Category string `json:"category"`
		Level    string `json:"level"`
	} `json:"patternInfo"`
}

func (a *CodacyAdapter) Parse(raw []byte) ([]Finding, error) {
	var c codacyOutput
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(c.Data))
	for _, item := range c.Data {
		var is codacyIssue
		if err := json.Unmarshal(item, &is); err != nil {
			return nil, err
		}
		out = append(out, Finding{
			Source:   SourceCodacy,
			Severity: codacySeverity(is.PatternInfo.Level, is.PatternInfo.Category),
			File:     is.FilePath,
			Line:     is.LineNumber,
			Title:    is.Message,
			Payload:  item,
		})
	}
	return out, nil
}

func codacySeverity(level, category string) Severity {
	if strings.EqualFold(category, "security") {
		return SeverityCritical
	}
	switch strings.ToLower(level) {
	case "error":
		return SeverityMajor
	case "warning":
		return SeverityMinor
	}
	return SeverityInfo
}

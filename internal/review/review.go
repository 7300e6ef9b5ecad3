// Package review normalizes code-review bot output into findings.
package review

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Source identifies the bot a finding came from.
type Source string

const (
	SourceCodeRabbit Source = "coderabbit"
	SourceQodo       Source = "qodo"
	SourceCodacy     Source = "codacy"
)

// Severity ranks a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityMinor:    1,
	SeverityMajor:    2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRank[s] >= severityRank[threshold]
}

// ParseSeverity validates a severity name.
func ParseSeverity(s string) (Severity, bool) {
	_, ok := severityRank[Severity(s)]
	return Severity(s), ok
}

// Finding is one review comment, normalized across sources. Payload keeps
// the source's original JSON for that comment.
type Finding struct {
	Source   Source          `json:"source"`
	Severity Severity        `json:"severity"`
	File     string          `json:"file,omitempty"`
	Line     int             `json:"line,omitempty"`
	Title    string          `json:"title"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Adapter parses one source's raw output.
type Adapter interface {
	Parse(raw []byte) ([]Finding, error)
}

// Registry maps sources to adapters.
type Registry struct {
	adapters map[Source]Adapter
}

// NewRegistry returns a Registry with every built-in adapter.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[Source]Adapter)}
	r.adapters[SourceCodeRabbit] = &CodeRabbitAdapter{}
	r.adapters[SourceQodo] = &QodoAdapter{}
	r.adapters[SourceCodacy] = &CodacyAdapter{}
	return r
}

// Sources lists registered sources, sorted.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Parse runs the adapter for src over raw. Findings are ordered most
// severe first, then by file and line.
func (r *Registry) Parse(src Source, raw []byte) ([]Finding, error) {
	a, ok := r.adapters[src]
	if !ok {
		return nil, fmt.Errorf("unknown review source %q", src)
	}
	findings, err := a.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s output: %w", src, err)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if severityRank[a.Severity] != severityRank[b.Severity] {
			return severityRank[a.Severity] > severityRank[b.Severity]
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return findings, nil
}

// Summary counts findings by severity.
type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
}

// Summarize counts findings.
func Summarize(findings []Finding) Summary {
	s := Summary{Total: len(findings), BySeverity: map[Severity]int{}}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
	}
	return s
}

// Blocking returns the findings at or above threshold.
func Blocking(findings []Finding, threshold Severity) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity.AtLeast(threshold) {
			out = append(out, f)
		}
	}
	return out
}

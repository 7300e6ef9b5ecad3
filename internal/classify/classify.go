// Package classify maps a failing job's log to a failure category and its
// auto-fix policy.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// Policy is the fixed auto-fix policy of a category.
type Policy struct {
	AutoFixable bool
	Confidence  ci.Confidence
	Severity    ci.Severity
}

// DefaultPolicy is keyed by category. Configuration can only remove
// auto-fixability (require_human_for), never grant it.
var DefaultPolicy = map[ci.Category]Policy{
	ci.CategoryLint:           {true, ci.ConfidenceHigh, ci.SeverityLow},
	ci.CategoryType:           {true, ci.ConfidenceMedium, ci.SeverityMedium},
	ci.CategoryTest:           {true, ci.ConfidenceLow, ci.SeverityMedium},
	ci.CategoryBuild:          {true, ci.ConfidenceMedium, ci.SeverityHigh},
	ci.CategoryDependency:     {true, ci.ConfidenceHigh, ci.SeverityMedium},
	ci.CategorySecurity:       {false, ci.ConfidenceHigh, ci.SeverityCritical},
	ci.CategoryInfrastructure: {false, ci.ConfidenceMedium, ci.SeverityMedium},
	ci.CategoryUnknown:        {false, ci.ConfidenceNA, ci.SeverityMedium},
}

// maxFiles caps how many file paths are kept from one log.
const maxFiles = 50

// Classifier assigns categories by signature.
type Classifier struct {
	signatures   []Signature
	requireHuman map[ci.Category]bool
}

// New creates a Classifier with DefaultSignatures. Categories in
// requireHuman are never auto-fixable; security never is regardless.
func New(requireHuman []ci.Category) *Classifier {
	c := &Classifier{
		signatures:   DefaultSignatures,
		requireHuman: map[ci.Category]bool{ci.CategorySecurity: true},
	}
	for _, cat := range requireHuman {
		c.requireHuman[cat] = true
	}
	return c
}

// Classify categorizes log text. Empty or unmatched text is unknown.
func (c *Classifier) Classify(log string) ci.FailureCategory {
	cat, name := ci.CategoryUnknown, ""
	for _, s := range c.signatures {
		if s.Pattern.MatchString(log) {
			cat, name = s.Category, s.Name
			break
		}
	}

	p := DefaultPolicy[cat]
	fc := ci.FailureCategory{
		Category:    cat,
		AutoFixable: p.AutoFixable && !c.requireHuman[cat],
		Confidence:  p.Confidence,
		Severity:    p.Severity,
		Signature:   name,
		Files:       ExtractFiles(log),
	}
	if cat == ci.CategorySecurity {
		fc.AutoFixable = false
	}
	return fc
}

// ClassifyJob classifies the job's log excerpt, falling back to its name
// when the provider returned no log.
func (c *Classifier) ClassifyJob(j ci.Job) ci.FailureCategory {
	if strings.TrimSpace(j.LogExcerpt) != "" {
		return c.Classify(j.LogExcerpt)
	}
	return c.Classify(j.Name)
}

var fileRe = regexp.MustCompile(`(?:^|[\s('"])((?:\.{0,2}/)?(?:[\w@.-]+/)*[\w@.-]+\.(?:go|ts|tsx|js|jsx|mjs|cjs|py|rb|rs|java|kt|swift|c|h|cc|cpp|hpp|cs|php|vue|svelte|css|scss|json|ya?ml|toml|mod|sum|lock))(?:[:(]\d+|\s*$)`)

// ExtractFiles returns the sorted, de-duplicated source paths referenced in
// log. Only paths followed by a line number or ending a line are kept.
func ExtractFiles(log string) []string {
	seen := map[string]bool{}
	for _, line := range strings.Split(log, "\n") {
		for _, m := range fileRe.FindAllStringSubmatch(strings.TrimRight(line, "\r "), -1) {
			p := strings.TrimPrefix(m[1], "./")
			if strings.Contains(p, "://") || strings.HasPrefix(p, ".") {
				continue
			}
			seen[p] = true
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	if len(files) > maxFiles {
		files = files[:maxFiles]
	}
	return files
}

package classify

import (
	"regexp"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// Signature is one pattern that identifies a failure category.
type Signature struct {
	Category ci.Category
	Name     string
	Pattern  *regexp.Regexp
}

func sig(cat ci.Category, name, expr string) Signature {
	return Signature{Category: cat, Name: name, Pattern: regexp.MustCompile(expr)}
}

// DefaultSignatures is checked in order; the first match wins. Security is
// first so a vulnerability report is never mistaken for a fixable failure.
var DefaultSignatures = []Signature{
	sig(ci.CategorySecurity, "cve", `CVE-\d{4}-\d{4,}`),
	sig(ci.CategorySecurity, "ghsa", `GHSA-[0-9a-z]{4}-[0-9a-z]{4}-[0-9a-z]{4}`),
	sig(ci.CategorySecurity, "vulnerability", `(?i)\bvulnerabilit(?:y|ies)\b`),
	sig(ci.CategorySecurity, "secret", `(?i)\b(?:secrets?|credentials?|private key|api[_ -]?key)\b.{0,40}\b(?:detected|found|leak(?:ed|s)?|exposed)\b`),
	sig(ci.CategorySecurity, "leaks", `(?i)\bleaks? found\b|\bgitleaks\b|\btrufflehog\b`),
	sig(ci.CategorySecurity, "scanner", `(?i)\b(?:govulncheck|npm audit|snyk|trivy|gosec)\b`),

	sig(ci.CategoryLint, "eslint", `(?im)\beslint\b|^\s*\d+:\d+\s+(?:error|warning)\s+.+\s+[@\w/-]+$`),
	sig(ci.CategoryLint, "prettier", `(?i)\bprettier\b|Code style issues found`),
	sig(ci.CategoryLint, "golangci", `(?i)\bgolangci-lint\b|\bgofmt\b|\bgoimports\b|\bstaticcheck\b`),
	sig(ci.CategoryLint, "python-lint", `(?i)\b(?:ruff|flake8|pylint|black)\b.*(?:would reformat|\b[EWF]\d{3}\b|error)`),
	sig(ci.CategoryLint, "other-lint", `(?i)\b(?:rubocop|clippy|stylelint|markdownlint|shellcheck)\b`),

	sig(ci.CategoryType, "tsc", `\(\d+,\d+\):\s+error\s+TS\d+:`),
	sig(ci.CategoryType, "ts-code", `\berror TS\d+:`),
	sig(ci.CategoryType, "go-types", `cannot use .+ as .+ value|mismatched types|has no field or method|\bnot enough arguments in call\b|\btoo many arguments in call\b`),
	sig(ci.CategoryType, "mypy", `(?im)\bmypy\b|: error: .+\[[a-z-]+\]$`),

	sig(ci.CategoryTest, "go-test", `(?m)^\s*--- FAIL: |^FAIL\s+\S+`),
	sig(ci.CategoryTest, "js-test", `(?i)\bTests?:\s+\d+ failed\b|\b\d+ failed\b.*\b\d+ passed\b|\bvitest\b|\bjest\b`),
	sig(ci.CategoryTest, "assertion", `(?i)\bAssertionError\b|\bexpected\b.+\b(?:to (?:be|equal)|but got|received)\b`),
	sig(ci.CategoryTest, "pytest", `(?m)^FAILED \S+::|=+ \d+ failed`),

	sig(ci.CategoryBuild, "compile", `(?i)\bcompilation failed\b|\bbuild failed\b|\bfailed to compile\b`),
	sig(ci.CategoryBuild, "go-build", `undefined: \w+|\bcannot find package\b|\bsyntax error\b`),
	sig(ci.CategoryBuild, "module", `(?i)\bcannot find module\b|\bmodule not found\b|\bSyntaxError\b`),
	sig(ci.CategoryBuild, "native", `\berror\[E\d{4}\]|\bmake: \*\*\*|\blinker command failed\b`),

	sig(ci.CategoryDependency, "npm", `(?i)\bERESOLVE\b|npm ERR! code E(?:404|TARGET|NOTARGET)|\bpeer dep(?:endency)? conflict\b`),
	sig(ci.CategoryDependency, "go-mod", `missing go\.sum entry|go: updates to go\.(?:mod|sum) needed|\bno matching versions? for\b|\bunknown revision\b`),
	sig(ci.CategoryDependency, "resolver", `(?i)\bcould not resolve dependenc|\bversion solving failed\b|\bResolutionImpossible\b|\blockfile\b.+\bout of date\b|\bfrozen-lockfile\b`),

	sig(ci.CategoryInfrastructure, "network", `(?i)\bconnection (?:refused|reset)\b|\bbroken pipe\b|\bno such host\b|\bnetwork is unreachable\b|\btemporary failure\b|\bunexpected EOF\b`),
	sig(ci.CategoryInfrastructure, "rate-limit", `(?i)\brate limit|\btoo many requests\b|\b(?:502|503|504)\b.{0,20}\b(?:bad gateway|service unavailable|gateway time-?out)\b`),
	sig(ci.CategoryInfrastructure, "runner", `(?i)\brunner\b.{0,40}\b(?:lost|offline|shutdown)\b|\bno space left on device\b|\bthe operation was canceled\b`),
	sig(ci.CategoryInfrastructure, "timeout", `(?i)\btimed? ?out\b|\bdeadline exceeded\b`),
}

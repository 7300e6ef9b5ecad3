package review

import (
	"encoding/json"
	"testing"
)

func TestCodeRabbitAdapter(t *testing.T) {
	input := `[
		{"path": "src/auth.ts", "line": 42, "body": "_⚠️ Potential issue_\n\n**Token is never validated.**\n\nCheck expiry before use.", "user": {"login": "coderabbitai[bot]"}},
		{"path": "src/util.ts", "original_line": 7, "body": "_🧹 Nitpick_\n\n**Prefer const.**", "user": {"login": "coderabbitai[bot]"}},
		{"path": "src/db.ts", "line": 3, "body": "_🛠️ Refactor suggestion_\n\n**Extract query builder.**", "user": {"login": "coderabbitai[bot]"}},
		{"path": "src/db.ts", "line": 9, "body": "looks good to me", "user": {"login": "alice"}}
	]`
	got, err := (&CodeRabbitAdapter{}).Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(got))
	}
	want := []struct {
		sev   Severity
		title string
		line  int
	}{
		{SeverityMajor, "Token is never validated.", 42},
		{SeverityInfo, "Prefer const.", 7},
		{SeverityMinor, "Extract query builder.", 3},
	}
	for i, w := range want {
		if got[i].Severity != w.sev {
			t.Errorf("[%d] severity = %q, want %q", i, got[i].Severity, w.sev)
		}
		if got[i].Title != w.title {
			t.Errorf("[%d] title = %q, want %q", i, got[i].Title, w.title)
		}
		if got[i].Line != w.line {
			t.Errorf("[%d] line = %d, want %d", i, got[i].Line, w.line)
		}
		if got[i].Source != SourceCodeRabbit {
			t.Errorf("[%d] source = %q", i, got[i].Source)
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(got[0].Payload, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["path"] != "src/auth.ts" {
		t.Errorf("payload path = %v", payload["path"])
	}
}

func TestQodoAdapter(t *testing.T) {
	input := `{"review": {
		"key_issues_to_review": [
			{"relevant_file": "api/handler.go ", "issue_header": "Possible Bug", "issue_content": "nil map write", "start_line": 88},
			{"relevant_file": "api/router.go", "issue_header": "Code Style", "issue_content": "long function", "start_line": 12}
		],
		"security_concerns": "Sensitive information exposure:\nThe token is logged."
	}}`
	got, err := (&QodoAdapter{}).Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(got))
	}
	if got[0].File != "api/handler.go" || got[0].Severity != SeverityMajor || got[0].Line != 88 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Severity != SeverityMinor {
		t.Errorf("style issue severity = %q, want minor", got[1].Severity)
	}
	if got[2].Severity != SeverityCritical || got[2].Title != "Sensitive information exposure:" {
		t.Errorf("security finding = %+v", got[2])
	}
}

func TestQodoAdapter_NoSecurityConcerns(t *testing.T) {
	got, err := (&QodoAdapter{}).Parse([]byte(`{"review": {"key_issues_to_review": [], "security_concerns": "No"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no findings, got %+v", got)
	}
}

func TestCodacyAdapter(t *testing.T) {
	input := `{"data": [
		{"filePath": "main.go", "lineNumber": 10, "message": "Error return value not checked", "patternInfo": {"id": "errcheck", "category": "ErrorProne", "level": "Error"}},
		{"filePath": "main.go", "lineNumber": 22, "message": "G101: hardcoded credentials", "patternInfo": {"id": "gosec_G101", "category": "Security", "level": "Warning"}},
		{"filePath": "util.go", "lineNumber": 3, "message": "exported func lacks comment", "patternInfo": {"id": "golint", "category": "Documentation", "level": "Info"}},
		{"filePath": "util.go", "lineNumber": 5, "message": "line too long", "patternInfo": {"id": "lll", "category": "CodeStyle", "level": "Warning"}}
	]}`
	got, err := (&CodacyAdapter{}).Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []Severity{SeverityMajor, SeverityCritical, SeverityInfo, SeverityMinor}
	if len(got) != len(want) {
		t.Fatalf("expected %d findings, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Severity != w {
			t.Errorf("[%d] severity = %q, want %q", i, got[i].Severity, w)
		}
	}
}

func TestAdapters_InvalidJSON(t *testing.T) {
	for _, a := range []Adapter{&CodeRabbitAdapter{}, &QodoAdapter{}, &CodacyAdapter{}} {
		if _, err := a.Parse([]byte("not json")); err == nil {
			t.Errorf("%T: expected error for invalid JSON", a)
		}
	}
}

func TestRegistry_Parse(t *testing.T) {
	r := NewRegistry()
	input := `{"data": [
		{"filePath": "b.go", "lineNumber": 1, "message": "info", "patternInfo": {"level": "Info"}},
		{"filePath": "a.go", "lineNumber": 9, "message": "major", "patternInfo": {"level": "Error"}},
		{"filePath": "a.go", "lineNumber": 2, "message": "major too", "patternInfo": {"level": "Error"}}
	]}`
	got, err := r.Parse(SourceCodacy, []byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	order := []string{"major too", "major", "info"}
	for i, title := range order {
		if got[i].Title != title {
			t.Errorf("[%d] title = %q, want %q", i, got[i].Title, title)
		}
	}

	s := Summarize(got)
	if s.Total != 3 || s.BySeverity[SeverityMajor] != 2 || s.BySeverity[SeverityInfo] != 1 {
		t.Errorf("Summarize = %+v", s)
	}
	if n := len(Blocking(got, SeverityMajor)); n != 2 {
		t.Errorf("Blocking(major) = %d findings, want 2", n)
	}
}

func TestRegistry_UnknownSource(t *testing.T) {
	if _, err := NewRegistry().Parse("sonar", []byte("[]")); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestRegistry_Sources(t *testing.T) {
	got := NewRegistry().Sources()
	want := []Source{SourceCodacy, SourceCodeRabbit, SourceQodo}
	if len(got) != len(want) {
		t.Fatalf("Sources = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sources[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseSeverity(t *testing.T) {
	if s, ok := ParseSeverity("major"); !ok || s != SeverityMajor {
		t.Errorf("ParseSeverity(major) = %q, %v", s, ok)
	}
	if _, ok := ParseSeverity("blocker"); ok {
		t.Error("ParseSeverity(blocker) ok = true, want false")
	}
	if !SeverityCritical.AtLeast(SeverityMajor) || SeverityMinor.AtLeast(SeverityMajor) {
		t.Error("AtLeast ordering wrong")
	}
}

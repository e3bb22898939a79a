package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wafExchange(target string, body []byte, contentType string) *Exchange {
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return &Exchange{Request: r, ClientID: "1.2.3.4", Body: body, BodyBuffered: true}
}

func TestWAFStageBlocksSignatures(t *testing.T) {
	stage := NewWAFStage(DefaultRules(), 1, discardLogger())

	tests := []struct {
		name        string
		target      string
		body        string
		contentType string
	}{
		{"script tag in query", "/search?q=<script>alert(1)</script>", "", ""},
		{"encoded script tag in query", "/search?q=%3Cscript%3E", "", ""},
		{"javascript scheme in body", "/notes", `{"link":"javascript:alert(1)"}`, "application/json"},
		{"event handler in body", "/notes", `{"html":"<img onerror=alert(1)>"}`, "application/json"},
		{"path traversal", "/files?name=../../etc/passwd", "", ""},
		{"encoded path traversal", "/files?name=%2e%2e%2fetc", "", ""},
		{"union select in query", "/items?id=1+UNION+SELECT+password", "", ""},
		{"quote or equals injection", "/items?id='+OR+'1'='1", "", ""},
		{"sleep call in body", "/items", `{"q":"1; SELECT sleep(5)"}`, "application/json"},
		{"null byte in query", "/read?f=secret%00.txt", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			ex := wafExchange(tt.target, body, tt.contentType)

			res, err := stage.Process(context.Background(), ex)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if res.Action != ActionDeny {
				t.Fatalf("expected deny, got %s", res.Action)
			}
			if res.Status != http.StatusForbidden {
				t.Errorf("status = %d, want 403", res.Status)
			}
			if res.Outcome != OutcomeWAFBlocked {
				t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeWAFBlocked)
			}
			if res.Message != "request blocked" {
				t.Errorf("message = %q leaks detail", res.Message)
			}
		})
	}
}

func TestWAFStageAllowsCleanRequests(t *testing.T) {
	stage := NewWAFStage(DefaultRules(), 1, discardLogger())

	tests := []struct {
		name        string
		target      string
		body        string
		contentType string
	}{
		{"plain get", "/users/42", "", ""},
		{"benign query", "/search?q=golang+tutorial", "", ""},
		{"benign json body", "/notes", `{"note":"union membership is selective"}`, "application/json"},
		{"word script alone", "/docs?q=javascript+basics", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			ex := wafExchange(tt.target, body, tt.contentType)

			res, err := stage.Process(context.Background(), ex)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if res.Action != ActionAllow {
				t.Fatalf("expected allow, got %s (%s)", res.Action, res.Outcome)
			}
		})
	}
}

func TestWAFStageSkipsBinaryBody(t *testing.T) {
	stage := NewWAFStage(DefaultRules(), 1, discardLogger())
	// The signature would match if the body were scanned.
	ex := wafExchange("/upload", []byte("<script>alert(1)</script>"), "application/octet-stream")

	res, err := stage.Process(context.Background(), ex)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Action != ActionAllow {
		t.Fatalf("binary body should not be scanned, got %s", res.Action)
	}
}

func TestWAFStageSeverityThreshold(t *testing.T) {
	// Threshold above every bundled severity disables all rules.
	stage := NewWAFStage(DefaultRules(), 4, discardLogger())
	ex := wafExchange("/search?q=<script>alert(1)</script>", nil, "")

	res, err := stage.Process(context.Background(), ex)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Action != ActionAllow {
		t.Fatalf("expected allow below threshold, got %s", res.Action)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := []byte(`rules:
  - name: custom-marker
    pattern: "(?i)forbidden-token"
    severity: 3
  - name: no-severity
    pattern: "xyzzy"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}
	if rules[0].Name != "custom-marker" || rules[0].Severity != 3 {
		t.Errorf("rule 0 = %+v", rules[0])
	}
	if !rules[0].Pattern.MatchString("FORBIDDEN-token") {
		t.Error("pattern should match case-insensitively")
	}
	if rules[1].Severity != 1 {
		t.Errorf("missing severity should default to 1, got %d", rules[1].Severity)
	}
}

func TestLoadRulesErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadRules(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("empty rule set", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(path, []byte("rules: []\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadRules(path); err == nil {
			t.Fatal("expected error for empty rule set")
		}
	})

	t.Run("bad pattern", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		content := []byte("rules:\n  - name: broken\n    pattern: \"[unclosed\"\n    severity: 1\n")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadRules(path); err == nil {
			t.Fatal("expected error for invalid pattern")
		}
	})
}

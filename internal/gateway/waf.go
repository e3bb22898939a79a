package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Rule is one immutable attack signature. The rule set is loaded once at
// construction and never changes during the gateway's lifetime.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Severity int
}

// RuleConfig is the on-disk form of a rule in the YAML rule file.
type RuleConfig struct {
	Name     string `koanf:"name"`
	Pattern  string `koanf:"pattern"`
	Severity int    `koanf:"severity"`
}

// DefaultRules returns the built-in signature set: script injection markers,
// path traversal sequences, and SQL meta-character clusters.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "script-tag", Pattern: regexp.MustCompile(`(?i)<\s*script`), Severity: 3},
		{Name: "js-scheme", Pattern: regexp.MustCompile(`(?i)javascript\s*:`), Severity: 3},
		{Name: "event-handler", Pattern: regexp.MustCompile(`(?i)\bon(?:error|load|click|mouseover)\s*=`), Severity: 2},
		{Name: "path-traversal", Pattern: regexp.MustCompile(`\.\./|\.\.\\|%2e%2e%2f|%2e%2e/`), Severity: 3},
		{Name: "sql-union", Pattern: regexp.MustCompile(`(?i)\bunion\b[\s/*]+\bselect\b`), Severity: 3},
		{Name: "sql-comment-or", Pattern: regexp.MustCompile(`(?i)('|%27)\s*(or|and)\s+[\w'"%]+\s*=`), Severity: 2},
		{Name: "sql-sleep", Pattern: regexp.MustCompile(`(?i)\b(?:sleep|benchmark|pg_sleep)\s*\(`), Severity: 2},
		{Name: "null-byte", Pattern: regexp.MustCompile(`%00|\x00`), Severity: 2},
	}
}

// LoadRules reads a YAML rule file ({rules: [{name, pattern, severity}]})
// and compiles it into a rule set.
func LoadRules(path string) ([]Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load waf rules %s: %w", path, err)
	}

	var configs []RuleConfig
	if err := k.Unmarshal("rules", &configs); err != nil {
		return nil, fmt.Errorf("unmarshal waf rules: %w", err)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("waf rule file %s contains no rules", path)
	}

	rules := make([]Rule, 0, len(configs))
	for _, rc := range configs {
		pattern, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile waf rule %q: %w", rc.Name, err)
		}
		severity := rc.Severity
		if severity <= 0 {
			severity = 1
		}
		rules = append(rules, Rule{Name: rc.Name, Pattern: pattern, Severity: severity})
	}
	return rules, nil
}

// WAFStage scans the request path, query string, and textual bodies against
// the signature set. Any single match at or above the severity threshold
// blocks the request; rule order never affects the outcome.
type WAFStage struct {
	rules       []Rule
	minSeverity int
	logger      *slog.Logger
}

// NewWAFStage builds the inspector over an immutable rule set.
func NewWAFStage(rules []Rule, minSeverity int, logger *slog.Logger) *WAFStage {
	if minSeverity < 1 {
		minSeverity = 1
	}
	return &WAFStage{rules: rules, minSeverity: minSeverity, logger: logger}
}

func (s *WAFStage) Name() string { return "waf" }

func (s *WAFStage) Process(_ context.Context, ex *Exchange) (*Result, error) {
	r := ex.Request

	targets := []string{r.URL.Path, r.URL.RawQuery}
	if decoded, err := url.QueryUnescape(r.URL.RawQuery); err == nil && decoded != r.URL.RawQuery {
		targets = append(targets, decoded)
	}
	if len(ex.Body) > 0 && textualContentType(r.Header.Get("Content-Type")) {
		targets = append(targets, string(ex.Body))
	}

	for _, rule := range s.rules {
		if rule.Severity < s.minSeverity {
			continue
		}
		for _, target := range targets {
			if rule.Pattern.MatchString(target) {
				// Log the rule, never the matched input, so attack
				// payloads cannot pollute the logs.
				s.logger.Warn("waf signature matched",
					slog.String("rule", rule.Name),
					slog.Int("severity", rule.Severity),
					slog.String("client", ex.ClientID),
					slog.String("path", r.URL.Path))
				return Deny(http.StatusForbidden, OutcomeWAFBlocked, "request blocked"), nil
			}
		}
	}

	return Allow(), nil
}

func textualContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	switch {
	case strings.HasPrefix(ct, "text/"):
		return true
	case ct == "application/json", ct == "application/x-www-form-urlencoded",
		ct == "application/xml", ct == "application/javascript":
		return true
	}
	return false
}

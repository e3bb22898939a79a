package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

var (
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

	// scriptMarkers are stripped from textual input. Removal loops until the
	// value is stable so split markers cannot reassemble into a new one.
	scriptMarkers = []string{"<script", "</script>", "javascript:"}
)

// SanitizeString trims surrounding whitespace, truncates to maxLen runes,
// and strips control characters and script markers. It is idempotent:
// sanitizing an already-sanitized string yields the same string.
//
// This is the one shared implementation used by both the sanitizer stage and
// request-schema validation; do not fork it.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)

	if maxLen > 0 {
		runes := []rune(s)
		if len(runes) > maxLen {
			s = string(runes[:maxLen])
		}
	}

	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)

	for {
		stripped := s
		lower := strings.ToLower(stripped)
		for _, marker := range scriptMarkers {
			for {
				idx := strings.Index(lower, marker)
				if idx < 0 {
					break
				}
				stripped = stripped[:idx] + stripped[idx+len(marker):]
				lower = strings.ToLower(stripped)
			}
		}
		if stripped == s {
			break
		}
		s = stripped
	}

	return strings.TrimSpace(s)
}

// ValidateUserID reports whether a candidate client identifier is in the
// accepted format: 1-50 word characters or dashes.
func ValidateUserID(s string) bool {
	return userIDPattern.MatchString(s)
}

// SanitizeStage normalizes textual input before it reaches handlers: query
// parameter values and JSON object string fields are passed through
// SanitizeString. A field whose content cannot be salvaged (non-empty before
// sanitizing, empty after) rejects the request.
type SanitizeStage struct {
	maxFieldLen int
}

// NewSanitizeStage builds the sanitizer with the configured field ceiling.
func NewSanitizeStage(maxFieldLen int) *SanitizeStage {
	return &SanitizeStage{maxFieldLen: maxFieldLen}
}

func (s *SanitizeStage) Name() string { return "sanitize" }

func (s *SanitizeStage) Process(_ context.Context, ex *Exchange) (*Result, error) {
	r := ex.Request

	if rawQuery := r.URL.RawQuery; rawQuery != "" {
		query := r.URL.Query()
		changed := false
		for key, values := range query {
			for i, v := range values {
				clean := SanitizeString(v, s.maxFieldLen)
				if clean != v {
					values[i] = clean
					changed = true
				}
			}
			query[key] = values
		}
		if changed {
			r.URL.RawQuery = query.Encode()
		}
	}

	if len(ex.Body) == 0 || !isJSONContentType(r.Header.Get("Content-Type")) {
		return Allow(), nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(ex.Body, &doc); err != nil {
		// Not a JSON object; leave it for the handler's own decoding.
		return Allow(), nil
	}

	changed := false
	for key, raw := range doc {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			continue // only string fields are sanitized
		}

		clean := SanitizeString(str, s.maxFieldLen)
		if strings.TrimSpace(str) != "" && clean == "" {
			return Deny(http.StatusBadRequest, OutcomeRejectedInput, "field cannot be safely processed: "+key), nil
		}
		if key == "user_id" && clean != "" && !ValidateUserID(clean) {
			return Deny(http.StatusBadRequest, OutcomeRejectedInput, "invalid user_id format"), nil
		}
		if clean != str {
			encoded, err := json.Marshal(clean)
			if err != nil {
				return nil, err
			}
			doc[key] = encoded
			changed = true
		}
	}

	if changed {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		ex.Body = bytes.TrimRight(buf.Bytes(), "\n")
	}

	return Allow(), nil
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	return ct == "application/json"
}

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// SizeGuardStage rejects oversized payloads before any body parsing happens.
// The declared Content-Length is checked first; when absent, the body is read
// up to a hard cap. The buffered body is stored on the exchange for the WAF
// and sanitizer stages so the body is only read once.
type SizeGuardStage struct {
	maxBytes int64
}

// NewSizeGuardStage builds the guard with the configured ceiling.
func NewSizeGuardStage(maxBytes int64) *SizeGuardStage {
	return &SizeGuardStage{maxBytes: maxBytes}
}

func (s *SizeGuardStage) Name() string { return "sizeguard" }

func (s *SizeGuardStage) Process(_ context.Context, ex *Exchange) (*Result, error) {
	r := ex.Request

	if r.ContentLength > s.maxBytes {
		return Deny(http.StatusRequestEntityTooLarge, OutcomeTooLarge, "request body too large"), nil
	}

	if r.Body == nil || r.Body == http.NoBody {
		ex.Body = nil
		ex.BodyBuffered = true
		return Allow(), nil
	}

	// Read at most one byte past the ceiling so an undeclared oversized
	// body is caught without buffering it whole.
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return Deny(http.StatusRequestEntityTooLarge, OutcomeTooLarge, "request body too large"), nil
	}

	ex.Body = body
	ex.BodyBuffered = true
	return Allow(), nil
}

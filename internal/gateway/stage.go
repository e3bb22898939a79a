// Package gateway implements the security pipeline every inbound request
// passes through before it reaches business logic: rate limiting, size
// guarding, WAF inspection, token authentication, input sanitization,
// security headers, and audit logging, executed as one explicit ordered
// chain.
package gateway

import (
	"context"
	"net/http"
)

// Action is the result action from a pipeline stage.
type Action string

const (
	// ActionAllow passes control to the next stage.
	ActionAllow Action = "allow"
	// ActionDeny terminates the chain with an error response.
	ActionDeny Action = "deny"
)

// Outcome labels which stage decided a request's fate; it ends up in the
// audit record.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeTooLarge      Outcome = "payload_too_large"
	OutcomeWAFBlocked    Outcome = "waf_blocked"
	OutcomeUnauthorized  Outcome = "unauthorized"
	OutcomeRejectedInput Outcome = "sanitization_rejected"
	OutcomeInternalError Outcome = "internal_error"
)

// Exchange carries a request through the stage chain. Stages may buffer the
// body once and replace it with a sanitized copy; the pipeline hands the
// final body to the business handler.
type Exchange struct {
	Request *http.Request

	// ClientID is the network-derived client identity used for rate
	// limiting. The audit record prefers the resolved token subject when
	// authentication ran.
	ClientID string

	// Body is the buffered request body. Nil until the size guard has read
	// it; stages after the guard must use this instead of Request.Body.
	Body []byte

	// BodyBuffered reports whether Body holds the full request body.
	BodyBuffered bool
}

// Result is what a stage hands back to the orchestrator.
type Result struct {
	Action  Action
	Status  int
	Outcome Outcome
	// Message is the client-visible error text for a deny. Kept generic so
	// deny responses never leak which internal check failed.
	Message string
	// Ctx, when non-nil, replaces the request context for later stages and
	// the handler (e.g. resolved identity).
	Ctx context.Context
	// Header entries are merged into the response (e.g. Retry-After).
	Header http.Header
}

// Allow continues the chain unchanged.
func Allow() *Result {
	return &Result{Action: ActionAllow}
}

// AllowWithContext continues the chain with an enriched request context.
func AllowWithContext(ctx context.Context) *Result {
	return &Result{Action: ActionAllow, Ctx: ctx}
}

// Deny terminates the chain.
func Deny(status int, outcome Outcome, message string) *Result {
	return &Result{Action: ActionDeny, Status: status, Outcome: outcome, Message: message}
}

// Stage is one link in the fixed chain. Process inspects the exchange and
// either allows the request onward or denies it; it must not write to the
// response.
type Stage interface {
	// Name returns the stage identifier used in logs and metrics.
	Name() string
	Process(ctx context.Context, ex *Exchange) (*Result, error)
}

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/smart-advisor/gateway/internal/identity"
)

// unauthorizedMessage is the single client-visible text for every credential
// failure so callers cannot probe which check rejected them.
const unauthorizedMessage = "invalid or missing credentials"

// AuthStage validates bearer credentials for requests under the configured
// protected-path prefixes and attaches the resolved identity for downstream
// stages and handlers. Unprotected paths skip authentication entirely.
type AuthStage struct {
	protected []string
	verifier  *identity.Verifier
	logger    *slog.Logger
}

// NewAuthStage builds the authenticator. The prefix set is immutable after
// construction.
func NewAuthStage(protectedPaths []string, verifier *identity.Verifier, logger *slog.Logger) *AuthStage {
	prefixes := make([]string, len(protectedPaths))
	copy(prefixes, protectedPaths)
	return &AuthStage{protected: prefixes, verifier: verifier, logger: logger}
}

func (s *AuthStage) Name() string { return "authn" }

func (s *AuthStage) Process(ctx context.Context, ex *Exchange) (*Result, error) {
	if !s.requiresAuth(ex.Request.URL.Path) {
		return Allow(), nil
	}

	token, err := extractBearer(ex.Request)
	if err == nil {
		var claims *identity.Claims
		claims, err = s.verifier.Verify(token)
		if err == nil {
			return AllowWithContext(identity.WithClaims(ctx, claims)), nil
		}
	}

	// The precise failure goes to the log only.
	s.logger.Info("authentication rejected",
		slog.String("path", ex.Request.URL.Path),
		slog.String("client", ex.ClientID),
		slog.String("reason", err.Error()))
	return Deny(http.StatusUnauthorized, OutcomeUnauthorized, unauthorizedMessage), nil
}

func (s *AuthStage) requiresAuth(path string) bool {
	for _, prefix := range s.protected {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractBearer pulls the credential out of the Authorization header.
func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", identity.ErrTokenMissing
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", identity.ErrTokenMalformed
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", identity.ErrTokenMissing
	}
	return token, nil
}

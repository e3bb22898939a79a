package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smart-advisor/gateway/internal/audit"
	"github.com/smart-advisor/gateway/internal/cache"
	"github.com/smart-advisor/gateway/internal/config"
	"github.com/smart-advisor/gateway/internal/identity"
)

// Pipeline executes the fixed, ordered stage chain for every request. The
// order is not configurable: Rate Limiter → Request Size Guard → WAF
// Inspector → Token Authenticator → Input Sanitizer → handler. Security
// headers and the audit record are applied on every path, including early
// exits and recovered faults.
type Pipeline struct {
	stages []Stage
	sink   audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

// Options wires the pipeline's collaborators. Cache and Sink are required;
// Verifier may be nil only when no protected paths are configured.
type Options struct {
	Config   *config.Config
	Cache    *cache.Manager
	Verifier *identity.Verifier
	Sink     audit.Sink
	Logger   *slog.Logger
}

// New assembles the stage chain from configuration.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("pipeline requires a cache manager")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("pipeline requires an audit sink")
	}
	if len(cfg.Auth.ProtectedPaths) > 0 && opts.Verifier == nil {
		return nil, fmt.Errorf("pipeline requires a verifier when protected paths are configured")
	}

	rules := DefaultRules()
	if cfg.WAF.RulesFile != "" {
		loaded, err := LoadRules(cfg.WAF.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	stages := []Stage{
		NewRateLimitStage(opts.Cache, cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests, logger),
		NewSizeGuardStage(cfg.Limits.MaxBodyBytes),
		NewWAFStage(rules, cfg.WAF.MinSeverity, logger),
		NewAuthStage(cfg.Auth.ProtectedPaths, opts.Verifier, logger),
		NewSanitizeStage(cfg.Sanitize.MaxFieldLength),
	}

	return &Pipeline{
		stages: stages,
		sink:   opts.Sink,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Wrap returns a handler that runs the full chain around next. Any request
// reaching next has already passed size, WAF, auth, and sanitization checks.
func (p *Pipeline) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := p.now()
		ex := &Exchange{Request: r, ClientID: clientIdentity(r)}
		sw := &secureWriter{ResponseWriter: w}
		outcome := OutcomeOK

		defer func() {
			if rec := recover(); rec != nil {
				// A fault anywhere past the stage boundary must not take
				// down other requests; convert it and still audit.
				p.logger.Error("handler fault recovered",
					slog.String("client", ex.ClientID),
					slog.String("path", r.URL.Path),
					slog.Any("fault", rec),
					slog.String("stack", string(debug.Stack())))
				outcome = OutcomeInternalError
				p.writeError(sw, http.StatusInternalServerError, "internal server error")
			}
			p.emitAudit(r, ex, sw, start, outcome)
		}()

		for _, stage := range p.stages {
			res, err := p.runStage(r.Context(), stage, ex)
			if err != nil {
				stageFaults.WithLabelValues(stage.Name()).Inc()
				p.logger.Error("stage fault",
					slog.String("stage", stage.Name()),
					slog.String("client", ex.ClientID),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
				outcome = OutcomeInternalError
				p.writeError(sw, http.StatusInternalServerError, "internal server error")
				return
			}

			mergeHeaders(sw.Header(), res.Header)

			if res.Action == ActionDeny {
				blockedRequests.WithLabelValues(stage.Name()).Inc()
				outcome = res.Outcome
				p.writeError(sw, res.Status, res.Message)
				return
			}

			if res.Ctx != nil {
				r = r.WithContext(res.Ctx)
				ex.Request = r
			}
		}

		// Hand the (possibly sanitized) buffered body to the handler.
		if ex.BodyBuffered {
			r.Body = io.NopCloser(bytes.NewReader(ex.Body))
			r.ContentLength = int64(len(ex.Body))
		}

		next.ServeHTTP(sw, r)

		// A handler that returns without writing produces an implicit 200;
		// the header map is still open, so the defensive set goes in here.
		if !sw.wrote {
			injectSecurityHeaders(sw.Header())
		}
	})
}

// runStage invokes one stage with a recovery boundary so a stage fault is
// contained to this request.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, ex *Exchange) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("stage %s panic: %v", stage.Name(), rec)
		}
	}()
	return stage.Process(ctx, ex)
}

func (p *Pipeline) writeError(w *secureWriter, status int, message string) {
	if w.wrote {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (p *Pipeline) emitAudit(r *http.Request, ex *Exchange, sw *secureWriter, start time.Time, outcome Outcome) {
	status := sw.status
	if status == 0 {
		status = http.StatusOK
	}

	clientID := ex.ClientID
	if claims := identity.FromContext(r.Context()); claims != nil {
		clientID = claims.Subject
	}

	rec := &audit.Record{
		ID:       uuid.New().String(),
		Time:     start,
		ClientID: clientID,
		Method:   r.Method,
		Path:     r.URL.Path,
		Status:   status,
		Latency:  p.now().Sub(start),
		Stage:    string(outcome),
	}

	requestOutcomes.WithLabelValues(string(outcome)).Inc()

	// The request context may already be cancelled; the audit write gets
	// its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()
	if err := p.sink.Write(ctx, rec); err != nil {
		p.logger.Error("audit sink write failed",
			slog.String("audit_id", rec.ID),
			slog.String("error", err.Error()))
	}
}

// clientIdentity derives the per-request client identity from the network
// origin. Behind a trusted proxy the first X-Forwarded-For hop wins.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func mergeHeaders(dst, src http.Header) {
	for name, values := range src {
		for _, v := range values {
			dst.Set(name, v)
		}
	}
}

// secureWriter injects the defensive header set immediately before the
// first byte of any response, so early exits and handler output alike carry
// them, and records the final status for the audit record.
type secureWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *secureWriter) WriteHeader(code int) {
	if !w.wrote {
		injectSecurityHeaders(w.ResponseWriter.Header())
		w.wrote = true
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *secureWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush forwards Flush when the underlying writer supports it.
func (w *secureWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

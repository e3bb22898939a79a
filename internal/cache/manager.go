package cache

import (
	"context"
	"log/slog"
	"time"
)

// Manager unifies the remote and local tiers behind one get/set contract.
// It prefers the remote tier and falls back to the local tier on any remote
// failure, so callers never observe a remote transport error — only a value
// or a miss. Construct it once at process start and inject it everywhere a
// stage needs cache state.
type Manager struct {
	remote Store // nil when the remote tier is disabled
	local  Store
	logger *slog.Logger
}

// Options configures a Manager.
type Options struct {
	// RedisURL enables the remote tier when non-empty. A bad URL or an
	// unreachable host disables the remote tier for the gateway's lifetime
	// instead of failing startup.
	RedisURL string
	Logger   *slog.Logger
}

// NewManager builds the two-tier manager. The local tier is always available
// as the safety net.
func NewManager(ctx context.Context, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		local:  NewMemoryStore(),
		logger: logger,
	}

	if opts.RedisURL == "" {
		logger.Info("cache manager running on local tier only")
		return m
	}

	remote, err := NewRedisStore(ctx, opts.RedisURL)
	if err != nil {
		logger.Warn("remote cache tier disabled",
			slog.String("error", err.Error()))
		return m
	}

	m.remote = remote
	logger.Info("cache manager connected to remote tier")
	return m
}

// newManagerWithStores wires explicit tiers; used by tests to inject a
// failing remote.
func newManagerWithStores(remote, local Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{remote: remote, local: local, logger: logger}
}

// RemoteEnabled reports whether the remote tier survived construction.
func (m *Manager) RemoteEnabled() bool {
	return m.remote != nil
}

// Get looks the key up in the remote tier first, then the local tier. Remote
// errors are swallowed after being counted and logged.
func (m *Manager) Get(ctx context.Context, key string) (Value, bool) {
	if m.remote != nil {
		value, ok, err := m.remote.Get(ctx, key)
		if err == nil {
			if ok {
				Hits.WithLabelValues("redis").Inc()
				return value, true
			}
		} else {
			Errors.WithLabelValues("get").Inc()
			Fallbacks.WithLabelValues("get").Inc()
			m.logger.Warn("remote cache get failed, using local tier",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}

	value, ok, _ := m.local.Get(ctx, key)
	if ok {
		Hits.WithLabelValues("memory").Inc()
		return value, true
	}
	Misses.Inc()
	return Value{}, false
}

// Set writes to the remote tier when available; on remote failure the entry
// lands in the local tier instead, so every Set succeeds somewhere.
func (m *Manager) Set(ctx context.Context, key string, value Value, ttl time.Duration) {
	if m.remote != nil {
		err := m.remote.Set(ctx, key, value, ttl)
		if err == nil {
			return
		}
		Errors.WithLabelValues("set").Inc()
		Fallbacks.WithLabelValues("set").Inc()
		m.logger.Warn("remote cache set failed, writing local tier",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	_ = m.local.Set(ctx, key, value, ttl)
}

// Increment bumps a counter using the remote tier's atomic INCR when
// available, falling back to the local tier's mutex-protected increment.
func (m *Manager) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if m.remote != nil {
		count, err := m.remote.Increment(ctx, key, ttl)
		if err == nil {
			return count, nil
		}
		Errors.WithLabelValues("incr").Inc()
		Fallbacks.WithLabelValues("incr").Inc()
		m.logger.Warn("remote cache increment failed, using local tier",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return m.local.Increment(ctx, key, ttl)
}

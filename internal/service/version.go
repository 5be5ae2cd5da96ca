package service

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/Strob0t/CodeHive/internal/port/cache"
)

const versionCacheKey = "engine:version"

// VersionProbe reports the engine's version string, caching successful probes.
type VersionProbe struct {
	binary  string
	timeout time.Duration
	ttl     time.Duration
	cache   cache.Cache
}

// NewVersionProbe creates a probe running "<binary> --version".
func NewVersionProbe(binary string, timeout, ttl time.Duration, c cache.Cache) *VersionProbe {
	if binary == "" {
		binary = "claude"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &VersionProbe{binary: binary, timeout: timeout, ttl: ttl, cache: c}
}

// Version returns the engine version, or nil when the engine is missing or
// the probe fails. Failures are not cached.
func (p *VersionProbe) Version(ctx context.Context) *string {
	if data, ok, err := p.cache.Get(ctx, versionCacheKey); err == nil && ok {
		v := string(data)
		return &v
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, p.binary, "--version").Output()
	if err != nil {
		slog.Debug("engine version probe failed", "binary", p.binary, "error", err)
		return nil
	}
	v := strings.TrimSpace(string(out))
	if err := p.cache.Set(ctx, versionCacheKey, []byte(v), p.ttl); err != nil {
		slog.Debug("failed to cache engine version", "error", err)
	}
	return &v
}

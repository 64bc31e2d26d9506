// Package iplookup resolves the address rendered by ip watermark items.
package iplookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/pkg/cache"
	"overlaycast/pkg/circuitbreaker"
	"overlaycast/pkg/config"
	"overlaycast/pkg/tracing"

	"go.uber.org/zap"
)

const (
	DefaultURL = "https://api.ipify.org?format=json"

	maxBodyBytes = 1 << 10
	cacheKey     = "public"
)

// HTTPResolver asks an ipify compatible service for the public address of
// the server itself. Every client is shown that same address, so one cached
// value serves everyone. Use RequestResolver to show clients their own.
type HTTPResolver struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	cache   *cache.Cache[string]
	logger  *zap.SugaredLogger
}

type HTTPResolverOptions struct {
	URL          string
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxFailures  int
	ResetTimeout time.Duration
}

func NewHTTPResolver(opts HTTPResolverOptions, logger *zap.SugaredLogger) *HTTPResolver {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	if opts.MaxFailures > 0 {
		breakerCfg.FailureThreshold = opts.MaxFailures
	}
	if opts.ResetTimeout > 0 {
		breakerCfg.ResetTimeout = opts.ResetTimeout
	}
	breaker := circuitbreaker.New(breakerCfg)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("ip lookup breaker state changed", "from", from.String(), "to", to.String())
	})

	return &HTTPResolver{
		url:     opts.URL,
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
		cache:   cache.New[string](opts.CacheTTL, 1),
		logger:  logger,
	}
}

var _ ports.IPResolver = (*HTTPResolver)(nil)

// Resolve never fails. Errors are logged and reported as
// domain.IPUnavailable, which is not cached.
func (r *HTTPResolver) Resolve(ctx context.Context, _ string) string {
	ip, err := r.cache.GetOrLoad(ctx, cacheKey, func(ctx context.Context) (string, error) {
		return circuitbreaker.Do(ctx, r.breaker, r.fetch)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			r.logger.Debugw("ip lookup skipped, breaker open", "url", r.url)
		} else {
			r.logger.Warnw("ip lookup failed", "url", r.url, "error", err)
		}
		return domain.IPUnavailable
	}
	return ip
}

type ipifyResponse struct {
	IP string `json:"ip"`
}

func (r *HTTPResolver) fetch(ctx context.Context) (string, error) {
	ctx, span := tracing.TraceExternalCall(ctx, "ipify", r.url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build ip lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("ip lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ip lookup returned status %d", resp.StatusCode)
		tracing.RecordError(ctx, err)
		return "", err
	}

	var body ipifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("failed to decode ip lookup response: %w", err)
	}
	ip := net.ParseIP(strings.TrimSpace(body.IP))
	if ip == nil {
		return "", fmt.Errorf("ip lookup returned invalid address %q", body.IP)
	}
	return ip.String(), nil
}

// RequestResolver shows each client its own remote address.
type RequestResolver struct{}

var _ ports.IPResolver = RequestResolver{}

func (RequestResolver) Resolve(_ context.Context, clientAddr string) string {
	host := strings.TrimSpace(clientAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return domain.IPUnavailable
	}
	return ip.String()
}

// DisabledResolver always reports the address as unavailable.
type DisabledResolver struct{}

func (DisabledResolver) Resolve(context.Context, string) string {
	return domain.IPUnavailable
}

// New picks the resolver for the configured mode.
func New(cfg *config.Config, logger *zap.SugaredLogger) ports.IPResolver {
	switch cfg.IPLookup.Mode {
	case config.IPLookupExternal:
		return NewHTTPResolver(HTTPResolverOptions{
			URL:          cfg.IPLookup.URL,
			Timeout:      cfg.IPLookup.Timeout,
			CacheTTL:     cfg.IPLookup.CacheTTL,
			MaxFailures:  cfg.IPLookup.Breaker.MaxFailures,
			ResetTimeout: cfg.IPLookup.Breaker.ResetTimeout,
		}, logger)
	case config.IPLookupDisabled:
		return DisabledResolver{}
	default:
		return RequestResolver{}
	}
}

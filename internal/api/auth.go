package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"fieldsync/internal/config"

	"golang.org/x/time/rate"
)

const apiKeyHeaderDefault = "x-api-key"

var (
	errMissingAPIKey = errors.New("missing api key header")
	errInvalidAPIKey = errors.New("invalid api key")
	errRateLimited   = errors.New("rate limit exceeded")
)

// Auth provides API-key auth and per-key rate limiting. With no keys
// configured, auth is skipped and rate limiting applies per remote host.
type Auth struct {
	cfg      config.APIConfig
	keys     map[string]struct{}
	limiters sync.Map // map[string]*rate.Limiter
}

func NewAuth(cfg config.APIConfig) *Auth {
	keys := make(map[string]struct{}, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if trimmed := strings.TrimSpace(k.Key); trimmed != "" {
			keys[trimmed] = struct{}{}
		}
	}
	return &Auth{cfg: cfg, keys: keys}
}

func (a *Auth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay open for probes and scrapers.
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if len(a.keys) > 0 {
			if err := a.checkAuth(r); err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Auth) headerName() string {
	header := strings.TrimSpace(strings.ToLower(a.cfg.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return header
}

func (a *Auth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return errMissingAPIKey
	}

	for known := range a.keys {
		if subtle.ConstantTimeCompare([]byte(known), []byte(apiKey)) == 1 {
			return nil
		}
	}
	return errInvalidAPIKey
}

func (a *Auth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	lim := a.getLimiter(a.clientKey(r))
	if !lim.Allow() {
		return errRateLimited
	}
	return nil
}

func (a *Auth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *Auth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

// Package gateway fronts the lending service with throttling and a single
// versioned prefix.
package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"coopcredit/internal/httpx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APIPrefix is stripped before requests are forwarded.
const APIPrefix = "/api/v1"

type Options struct {
	// Upstream is the lending service base URL.
	Upstream *url.URL
	// ClientRate and ClientBurst size each client's token bucket.
	ClientRate  rate.Limit
	ClientBurst int
	// GlobalRate caps all traffic together; zero disables it.
	GlobalRate  rate.Limit
	GlobalBurst int
}

// NewRouter returns the gateway handler.
func NewRouter(opts Options, logger *zap.Logger) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(opts.Upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("upstream request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		httpx.WriteError(w, http.StatusBadGateway, "lending service unavailable")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if opts.GlobalRate > 0 {
			r.Use(httpx.RateLimit(rate.NewLimiter(opts.GlobalRate, opts.GlobalBurst)))
		}
		r.Use(httpx.ClientRateLimit(opts.ClientRate, opts.ClientBurst))
		r.Handle(APIPrefix+"/*", http.StripPrefix(APIPrefix, forwardRequestID(proxy)))
	})
	return r
}

// forwardRequestID passes the gateway's request id upstream.
func forwardRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

// Package relay implements the one-shot file relay's Edge Handler: a
// stateless HTTP front end that performs no admission decisions on its own,
// delegating all of those to the actor package, and streams bytes to and
// from the store package.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/zynqcloud/oneshot/internal/actor"
	"github.com/zynqcloud/oneshot/internal/config"
	"github.com/zynqcloud/oneshot/internal/middleware"
	"github.com/zynqcloud/oneshot/internal/store"
)

// Metrics are the relay's in-process counters, exposed through the
// Prometheus collector in metrics.go. /hc does not report them.
type Metrics struct {
	UploadsTotal   atomic.Int64
	UploadsFailed  atomic.Int64
	DownloadsTotal atomic.Int64
	DownloadsMiss  atomic.Int64
	RateLimited    atomic.Int64
	Unauthorized   atomic.Int64
}

// Handler holds the Edge Handler's dependencies. It implements http.Handler
// directly so callers can wire RunScheduler and MetricsHandler off the same
// value they hand to http.Server, instead of type-asserting an interface
// back out of one.
type Handler struct {
	cfg     *config.Relay
	actor   *actor.Actor
	store   store.Blob
	logger  *slog.Logger
	metrics *Metrics

	mux http.Handler
}

// New builds the relay's public HTTP surface. Route matching is manual
// (method dispatch inside each handler, rather than Go 1.22's
// "METHOD /path" mux patterns) because spec.md §4.2/§7 require that anything
// outside the documented {method,path} table — including a wrong method on
// a known path — come back as an *empty* 404, never a 405 with an Allow
// header. A 405 would itself be a fingerprinting oracle.
func New(cfg *config.Relay, act *actor.Actor, blob store.Blob, logger *slog.Logger) *Handler {
	h := &Handler{cfg: cfg, actor: act, store: blob, logger: logger, metrics: &Metrics{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/hc", h.handleHC)
	mux.HandleFunc("/hp", h.handleHelp)
	mux.HandleFunc("/ud", h.handleUD)
	mux.HandleFunc("/ud/", h.handleUD) // PUT /ud/<name>, and the /ud/f/ subtree below
	mux.HandleFunc("/ud/f/", h.handleDownload)
	mux.HandleFunc("/", emptyNotFound)

	var top http.Handler = mux
	if cfg.BasePath != "" {
		top = withBasePath(cfg.BasePath, mux)
	}
	h.mux = middleware.RequestLog(logger)(top)
	return h
}

// ServeHTTP makes Handler itself usable as http.Server's Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// withBasePath requires every request to be rooted under prefix; anything
// else is an empty 404, same as an unrecognized path under the prefix.
func withBasePath(prefix string, next http.Handler) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix && !strings.HasPrefix(r.URL.Path, prefix+"/") {
			emptyNotFound(w, r)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		if rest == "" {
			rest = "/"
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = rest
		next.ServeHTTP(w, r2)
	})
}

// emptyNotFound writes a bare 404 with no body and no discriminating
// headers — spec.md §4.2.1: "no body, no hint".
func emptyNotFound(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// clientIP extracts the caller's address for rate limiting, stripping the
// port the same way a reverse proxy's X-Forwarded-For would be parsed if one
// were configured; this deployment trusts RemoteAddr directly.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i != -1 {
		host = host[:i]
	}
	return host
}

// backgroundOp runs an actor/store cleanup step detached from the request's
// context so a client disconnect never skips the matching abort/commit or
// delete/finalize pair (spec.md §5: "scheduled on a detached task").
func backgroundOp(logger *slog.Logger, name string, fn func(ctx context.Context) error) {
	go func() {
		if err := fn(context.Background()); err != nil {
			logger.Warn("background op failed", "op", name, "err", err)
		}
	}()
}

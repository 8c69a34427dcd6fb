// Package httpapi exposes a storage.Store over HTTP and provides a matching
// client.
//
// Endpoints:
//
//	GET    /health     liveness, 503 once the store is closed
//	GET    /kv/{key}   value as the raw body, 404 if absent
//	PUT    /kv/{key}   store the raw body, 204
//	DELETE /kv/{key}   {"deleted": bool}
//	DELETE /kv         clear every shard, 204
//	GET    /keys       {"keys": [...], "count": n}
//	GET    /info       per-shard metadata and counters
//	GET    /metrics    Prometheus exposition, when a gatherer is configured
//
// Keys are taken from the unescaped request path, so a key containing "/"
// must be sent percent-encoded. Keys may not be empty.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dreamware/diskcache/internal/metrics"
	"github.com/dreamware/diskcache/internal/shard"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MaxValueBytes bounds the body of a PUT request.
const MaxValueBytes = 32 << 20

const kvPrefix = "/kv/"

// Store is the subset of storage.Store served over HTTP.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) (bool, error)
	Clear() error
	Keys() ([]string, error)
	Info() []shard.ShardInfo
	Stats() []shard.ShardStats
	Dir() string
	NumShards() int
	IsClosed() bool
}

type handler struct {
	log      *zap.Logger
	store    Store
	gatherer prometheus.Gatherer
	metrics  *metrics.HTTPMetrics
}

// Option configures the handler.
type Option func(*handler)

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *handler) { h.log = log }
}

// WithGatherer serves g on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *handler) { h.gatherer = g }
}

// WithMetrics records every request into m.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *handler) { h.metrics = m }
}

// NewHandler returns the HTTP API for store.
func NewHandler(store Store, opts ...Option) http.Handler {
	h := &handler{
		log:   zap.NewNop(),
		store: store,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer, h.instrument)

	r.Get("/health", h.handleHealth)
	r.Get("/kv/*", h.handleGet)
	r.Put("/kv/*", h.handlePut)
	r.Delete("/kv/*", h.handleDelete)
	r.Delete("/kv", h.handleClear)
	r.Get("/keys", h.handleKeys)
	r.Get("/info", h.handleInfo)
	if h.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// instrument logs and counts every request.
func (h *handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveRequest(route, r.Method, status, time.Since(start))
		h.log.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// keyFromPath returns the key addressed by a /kv/{key} request.
func keyFromPath(r *http.Request) (string, bool) {
	key := strings.TrimPrefix(r.URL.Path, kvPrefix)
	return key, key != ""
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if h.store.IsClosed() {
		writeError(w, http.StatusServiceUnavailable, KindClosed, "store closed")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, KindBadInput, "empty key")
		return
	}

	value, found, err := h.store.Get(key)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, KindBadInput, "key not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.WriteString(w, value); err != nil {
		h.log.Debug("Error writing response", zap.Error(err))
	}
}

func (h *handler) handlePut(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, KindBadInput, "empty key")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxValueBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, KindBadInput, "value too large")
			return
		}
		writeError(w, http.StatusBadRequest, KindBadInput, "failed to read body")
		return
	}

	if err := h.store.Set(key, string(body)); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, KindBadInput, "empty key")
		return
	}

	deleted, err := h.store.Delete(key)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: deleted})
}

func (h *handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.Keys()
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys, Count: len(keys)})
}

func (h *handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	infos := h.store.Info()
	stats := h.store.Stats()

	resp := InfoResponse{
		Dir:        h.store.Dir(),
		ShardCount: h.store.NumShards(),
		Shards:     make([]ShardReport, len(infos)),
	}
	for i, info := range infos {
		resp.Shards[i] = ShardReport{ShardInfo: info}
		if i < len(stats) {
			resp.Shards[i].Operations = stats[i].Ops
		}
		resp.LoadedKeys += info.KeyCount
		resp.LoadedSize += info.ByteSize
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errorKind(err)
	code := http.StatusInternalServerError
	if kind == KindClosed {
		code = http.StatusServiceUnavailable
	}
	h.log.Warn("Store operation failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("kind", kind),
		zap.Error(err),
	)
	writeError(w, code, kind, err.Error())
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

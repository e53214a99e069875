package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go-bridge/internal/static"
	"go-bridge/peer"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// backend is the worker the front end forwards to. *peer.Process
// implements it.
type backend interface {
	Handle(req *peer.Request) (*peer.Response, error)
	Pid() int
	Recycle()
}

type frontend struct {
	backend backend
	root    string
	static  []static.Rule
	metrics *Metrics
	log     *zap.SugaredLogger

	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func newFrontend(b backend, root string, rules []static.Rule, log *zap.SugaredLogger) *frontend {
	return &frontend{
		backend:    b,
		root:       root,
		static:     rules,
		metrics:    NewMetrics(),
		log:        log,
		tracer:     otel.Tracer("go-bridge/devserver"),
		propagator: otel.GetTextMapPropagator(),
	}
}

func (f *frontend) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/__devserver/health", f.handleHealth)
	mux.HandleFunc("/__devserver/recycle", f.handleRecycle)
	mux.HandleFunc("/__devserver/metrics", f.handleMetrics)
	mux.HandleFunc("/", f.handleApp)
	return mux
}

func (f *frontend) handleApp(w http.ResponseWriter, r *http.Request) {
	// 1) Try static assets first
	if static.TryServe(w, r, f.root, f.static) {
		return
	}

	start := time.Now()
	routeKey := r.URL.Path
	if routeKey == "" {
		routeKey = "/"
	}
	f.metrics.StartRequest(routeKey)

	ctx, span := f.tracer.Start(r.Context(), r.Method+" "+routeKey,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.request.method", r.Method)),
	)
	defer span.End()
	f.propagator.Inject(ctx, propagation.HeaderCarrier(r.Header))

	// 2) Transform request → wire request for the worker
	req, reqID, err := BuildRequest(r)
	log := f.log.With("request_id", reqID, "method", r.Method, "uri", r.URL.RequestURI())
	if err != nil {
		log.Warnw("reading request failed", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		f.metrics.EndRequest(routeKey, http.StatusBadRequest, time.Since(start))
		return
	}

	resp, err := f.backend.Handle(req)
	if err != nil {
		status := writeWorkerError(w, err, log)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.metrics.EndRequest(routeKey, status, time.Since(start))
		return
	}

	// If the worker returns 404, give static another chance
	if resp.Status == http.StatusNotFound && static.TryServe(w, r, f.root, f.static) {
		f.metrics.EndRequest(routeKey, http.StatusOK, time.Since(start))
		return
	}

	for _, k := range resp.Headers.Keys() {
		for _, v := range resp.Headers.Values(k) {
			w.Header().Add(k, v)
		}
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)

	elapsed := time.Since(start)
	f.metrics.EndRequest(routeKey, status, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	log.Infow("request",
		"status", status,
		"duration_ms", float64(elapsed.Microseconds())/1000,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
	)
}

func (f *frontend) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"worker_pid": f.backend.Pid(),
	}); err != nil {
		http.Error(w, "failed to encode health summary", http.StatusInternalServerError)
	}
}

// handleRecycle marks the worker dead so it respawns on the next request.
func (f *frontend) handleRecycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	f.backend.Recycle()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"note":   "worker marked dead; will respawn on next request",
	})
}

func (f *frontend) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f.metrics.Snapshot()); err != nil {
		http.Error(w, "failed to encode metrics", http.StatusInternalServerError)
	}
}

// mapWorkerErrorToStatus converts worker-level errors into HTTP status codes.
func mapWorkerErrorToStatus(err error) int {
	var we *peer.WorkerError
	if errors.As(err, &we) {
		// the application failed; the worker itself is fine
		return http.StatusInternalServerError
	}

	msg := err.Error()

	switch {
	case strings.Contains(msg, "timeout"):
		return http.StatusGatewayTimeout
	case strings.Contains(msg, "unexpected EOF"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection reset"):
		// Connection to the worker died mid-request
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeWorkerError logs and sends an appropriate HTTP error to the client.
func writeWorkerError(w http.ResponseWriter, err error, log *zap.SugaredLogger) int {
	status := mapWorkerErrorToStatus(err)
	log.Errorw("worker error", "status", status, "error", err)
	http.Error(w, http.StatusText(status), status)
	return status
}

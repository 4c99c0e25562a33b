package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atharvarekhawar/DropIt/internal/service/deploy"
	"github.com/atharvarekhawar/DropIt/internal/service/logs"
	"github.com/atharvarekhawar/DropIt/internal/service/project"
	"github.com/atharvarekhawar/DropIt/internal/ws"
)

// Router wires the registry HTTP surface to services.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	project     project.Service
	deploy      deploy.Service
	logs        logs.Service
	upgrader    websocket.Upgrader
	limiter     RateLimiter
	workerToken string
	dbHealth    func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitStream    = 30
	rateLimitWorker    = 600
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, projectSvc project.Service, deploySvc deploy.Service, logSvc logs.Service, limiter RateLimiter, workerToken string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		project: projectSvc,
		deploy:  deploySvc,
		logs:    logSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:     limiter,
		workerToken: strings.TrimSpace(workerToken),
		dbHealth:    dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/project", r.audit("/project", r.withRateLimit("/project", rateLimitWrite, rateWindowDefault, r.handleCreateProject)))
	r.mux.HandleFunc("/deploy", r.audit("/deploy", r.withRateLimit("/deploy", rateLimitWrite, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/deployments/", r.audit("/deployments", r.withRateLimit("/deployments", rateLimitRead, rateWindowDefault, r.handleDeployments)))
	r.mux.HandleFunc("/logs/", r.audit("/logs", r.handleLogs))
	r.mux.HandleFunc("/ws/logs", r.audit("/ws/logs", r.withRateLimit("/ws/logs", rateLimitStream, rateWindowRealtime, r.handleLogsWS)))
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name    string `json:"name"`
		RepoURL string `json:"repo_url"`
		// git_url accepted for compatibility with older clients.
		GitURL string `json:"git_url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "invalid JSON body")
		return
	}
	if payload.RepoURL == "" {
		payload.RepoURL = payload.GitURL
	}
	proj, err := r.project.Create(req.Context(), payload.Name, payload.RepoURL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": proj})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.ProjectID) == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "project_id is required")
		return
	}
	deployment, err := r.deploy.Trigger(req.Context(), payload.ProjectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"deployment_id": deployment.ID,
		"status":        deployment.Status,
	})
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/deployments/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		r.notFound(w)
		return
	}
	if req.URL.Query().Get("project") == "1" {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		deployments, err := r.deploy.ListByProject(req.Context(), trimmed, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
		return
	}
	deployment, err := r.deploy.Get(req.Context(), trimmed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployment": deployment})
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/logs/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	deploymentID := parts[0]
	if deploymentID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 2 && parts[1] == "stream" {
		r.withRateLimit("/logs/stream", rateLimitStream, rateWindowRealtime, func(w http.ResponseWriter, req *http.Request) {
			r.handleLogsSSE(w, req, deploymentID)
		})(w, req)
		return
	}
	if len(parts) > 1 {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		r.withRateLimit("/logs", rateLimitRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleLogsRead(w, req, deploymentID)
		})(w, req)
	case http.MethodPost:
		r.withRateLimit("/logs", rateLimitWorker, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleLogsIngest(w, req, deploymentID)
		})(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleLogsRead(w http.ResponseWriter, req *http.Request, deploymentID string) {
	since, _ := strconv.ParseInt(req.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	events, err := r.logs.List(req.Context(), deploymentID, since, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var cursor int64
	if len(events) > 0 {
		cursor = events[len(events)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": events, "cursor": cursor})
}

// handleLogsIngest accepts log lines from workers that cannot reach the
// message channel directly. Token gated; same relay path as the consumer.
func (r *Router) handleLogsIngest(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if !r.verifyWorkerToken(w, req) {
		return
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "invalid JSON body")
		return
	}
	payload.Message = strings.TrimSpace(payload.Message)
	if payload.Message == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "message is required")
		return
	}
	if _, err := r.deploy.Get(req.Context(), deploymentID); err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := r.logs.Append(req.Context(), deploymentID, payload.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := r.deploy.ObserveLog(req.Context(), deploymentID, payload.Message); err != nil {
		r.logger.Warn("status observation failed", "deployment_id", deploymentID, "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "deployment_id query parameter required")
		return
	}
	if _, err := r.deploy.Get(req.Context(), deploymentID); err != nil {
		writeServiceError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.logs.Hub().Register(deploymentID, client)
	go func() {
		defer func() {
			r.logs.Hub().Unregister(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleLogsSSE(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.deploy.Get(req.Context(), deploymentID); err != nil {
		writeServiceError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, kindInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.logs.Hub().Register(deploymentID, client)
	defer func() {
		r.logs.Hub().Unregister(deploymentID, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		duration := time.Since(start)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		logAt := r.logger.Info
		if status >= http.StatusInternalServerError {
			logAt = r.logger.Error
		} else if status >= http.StatusBadRequest {
			logAt = r.logger.Warn
		}
		logAt("http_request", auditFields(req, status, recorder.bytes, duration)...)
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

func auditFields(req *http.Request, status, bytes int, duration time.Duration) []any {
	fields := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", status,
		"bytes", bytes,
		"duration_ms", duration.Milliseconds(),
	}
	if ip := rateLimitKeyIP(req); ip != "" {
		fields = append(fields, "ip", strings.TrimPrefix(ip, "ip:"))
	}
	if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
		fields = append(fields, "request_id", reqID)
	}
	return fields
}

// verifyWorkerToken ensures worker-facing endpoints carry the shared secret.
func (r *Router) verifyWorkerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.workerToken
	if expected == "" {
		r.logger.Error("worker token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, kindInternal, "worker authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Worker-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("worker token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, kindUnauthorized, "invalid worker token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, kindValidation, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, kindNotFound, "not found")
}

// statusRecorder captures the response code and size for the audit log. It
// forwards Flush and Hijack so SSE and websocket upgrades work through the
// middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

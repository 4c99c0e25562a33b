// Package proxy serves deployed static sites by subdomain. Hostnames are
// attacker influenced, so every resolution or path problem is normalized to
// 404 and no internal diagnostics leave the process.
package proxy

import (
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/atharvarekhawar/DropIt/internal/domain"
	"github.com/atharvarekhawar/DropIt/internal/objectstore"
	"github.com/atharvarekhawar/DropIt/internal/subdomain"
)

// Handler proxies inbound requests to the object store prefix of the
// resolved project.
type Handler struct {
	resolver Resolver
	store    objectstore.Store
	root     string
	logger   *slog.Logger
	metrics  *metrics
}

// NewHandler constructs the proxy handler. root is the fixed artifact
// namespace build workers upload under.
func NewHandler(resolver Resolver, store objectstore.Store, root string, logger *slog.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		store:    store,
		root:     strings.Trim(root, "/"),
		logger:   logger,
		metrics:  newMetrics(),
	}
}

// ServeHTTP streams the requested artifact back without buffering it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	status := h.serve(w, req)
	h.metrics.observe(req.Method, status, time.Since(start))

	fields := []any{"method", req.Method, "host", req.Host, "path", req.URL.Path, "status", status,
		"duration_ms", time.Since(start).Milliseconds()}
	if status >= http.StatusInternalServerError {
		h.logger.Error("proxy_request", fields...)
	} else {
		h.logger.Info("proxy_request", fields...)
	}
}

func (h *Handler) serve(w http.ResponseWriter, req *http.Request) int {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}

	label, ok := hostLabel(req.Host)
	if !ok {
		return h.notFound(w)
	}

	projectID, err := h.resolver.Resolve(req.Context(), label)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return h.notFound(w)
		}
		h.logger.Error("subdomain resolution failed", "subdomain", label, "error", err)
		w.WriteHeader(http.StatusBadGateway)
		return http.StatusBadGateway
	}

	key, ok := h.objectKey(projectID, req.URL.Path)
	if !ok {
		return h.notFound(w)
	}

	obj, err := h.store.Get(req.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return h.notFound(w)
		}
		h.logger.Error("artifact fetch failed", "key", key, "error", err)
		w.WriteHeader(http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(key))
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return http.StatusOK
	}
	// Copy streams until done or the client disconnects; cancellation of the
	// request context aborts the underlying store read.
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Debug("stream interrupted", "key", key, "error", err)
	}
	return http.StatusOK
}

// objectKey maps a request path into the project's artifact prefix with the
// static-site fallback: "/" and directory paths resolve to index.html.
func (h *Handler) objectKey(projectID, rawPath string) (string, bool) {
	cleaned := path.Clean("/" + rawPath)
	// Clean on a rooted path leaves no ".." segments; guard anyway, but only
	// per segment so filenames like app..min.js still serve.
	for _, segment := range strings.Split(cleaned[1:], "/") {
		if segment == ".." {
			return "", false
		}
	}
	if cleaned == "/" {
		cleaned = "/index.html"
	} else if strings.HasSuffix(rawPath, "/") {
		cleaned += "/index.html"
	}
	return h.root + "/" + projectID + cleaned, true
}

func (h *Handler) notFound(w http.ResponseWriter) int {
	http.Error(w, "not found", http.StatusNotFound)
	return http.StatusNotFound
}

// hostLabel extracts and validates the leading DNS label of a Host header.
func hostLabel(host string) (string, bool) {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, found := strings.Cut(host, ".")
	if !found {
		return "", false
	}
	label = strings.ToLower(label)
	if !subdomain.Valid(label) {
		return "", false
	}
	return label, true
}

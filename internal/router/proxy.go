package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Gate decides whether the agent controls the client that sent a request.
// Uncontrolled clients are proxied without interception.
type Gate interface {
	Controls(r *http.Request) bool
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler binds the Router to an HTTP listener sitting in front of origin.
type Handler struct {
	router *Router
	origin *url.URL
	gate   Gate
	logger *slog.Logger
}

// NewHandler constructs a Handler. A nil gate intercepts every request.
func NewHandler(router *Router, origin *url.URL, gate Gate) *Handler {
	return &Handler{
		router: router,
		origin: origin,
		gate:   gate,
		logger: router.logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := h.outbound(r)

	strategy := StrategyBypass
	if h.gate == nil || h.gate.Controls(r) {
		strategy = h.router.Classify(out)
	}

	resp, err := h.router.Execute(r.Context(), strategy, out)
	if err != nil {
		h.logger.Info("request failed", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("strategy", string(strategy)), slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "network_unavailable", err.Error())
		return
	}
	defer resp.Body.Close()

	h.logger.Debug("request served", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("strategy", string(strategy)), slog.Int("status", resp.StatusCode))
	removeHopHeaders(resp.Header)
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("response copy aborted", slog.String("error", err.Error()))
	}
}

// outbound rewrites an inbound request into one addressed at the origin.
// Absolute-form requests (forward proxy use) keep their target.
func (h *Handler) outbound(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	if !r.URL.IsAbs() {
		out.URL = h.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	}
	out.Host = out.URL.Host
	out.RequestURI = ""
	removeHopHeaders(out.Header)
	if r.ContentLength == 0 && r.Method == http.MethodGet {
		out.Body = nil
	}
	return out
}

func removeHopHeaders(header http.Header) {
	if c := header.Get("Connection"); c != "" {
		for _, name := range strings.Split(c, ",") {
			header.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"type":   code,
		"detail": detail,
	})
}

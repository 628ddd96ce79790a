package proxy

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Strum355/log"
	"github.com/spf13/viper"
)

// Route is the path the media clients rewrite upstream hosts through.
const Route = "/api/cors-proxy"

// Headers that must not be forwarded either direction. Hop-by-hop headers are
// connection-scoped, and the content-negotiation ones would make the upstream
// respond with encodings the pass-through copy does not handle.
var strippedHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Accept-Encoding":     true,
	"Host":                true,
	"Origin":              true,
	"Referer":             true,
}

// Handler forwards allow-listed upstream requests, adding permissive CORS
// headers to the response.
type Handler struct {
	client  *http.Client
	allowed []string
}

// NewHandler builds the proxy from the configured host allow-list.
func NewHandler() *Handler {
	return &Handler{
		client:  &http.Client{Timeout: 30 * time.Second},
		allowed: viper.GetStringSlice("proxy.allowed_hosts"),
	}
}

func (h *Handler) allowedHost(host string) bool {
	// Port strip has to survive IPv6 literals like [::1]:443.
	if stripped, _, err := net.SplitHostPort(host); err == nil {
		host = stripped
	}
	host = strings.Trim(host, "[]")
	for _, a := range h.allowed {
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		http.Error(w, "malformed url parameter", http.StatusBadRequest)
		return
	}
	if !h.allowedHost(target.Host) {
		http.Error(w, "host not allowed", http.StatusForbidden)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), nil)
	if err != nil {
		http.Error(w, "malformed url parameter", http.StatusBadRequest)
		return
	}
	for name, values := range r.Header {
		if strippedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"host": target.Host}).Warn("Proxy upstream request failed")
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if strippedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// Mount registers the proxy on a mux under its route.
func Mount(mux *http.ServeMux) {
	mux.Handle(Route, NewHandler())
}

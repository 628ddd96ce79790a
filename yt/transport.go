package yt

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// mediaHosts are the only domains routed through the CORS proxy. Everything
// else passes through untouched.
var mediaHosts = []string{
	"youtube.com",
	"googlevideo.com",
	"ytimg.com",
	"ggpht.com",
}

// ProxyTransport rewrites requests bound for known video/media hosts to go
// through the shared CORS proxy. It is injected into the extraction client at
// construction time, so no process-global transport is ever mutated.
type ProxyTransport struct {
	Base     http.RoundTripper
	ProxyURL string
}

func NewProxyTransport(proxyURL string) *ProxyTransport {
	return &ProxyTransport{Base: http.DefaultTransport, ProxyURL: proxyURL}
}

func (t *ProxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.ProxyURL == "" || !isMediaHost(req.URL.Host) {
		return base.RoundTrip(req)
	}

	proxied, err := url.Parse(t.ProxyURL)
	if err != nil {
		return base.RoundTrip(req)
	}
	q := proxied.Query()
	q.Set("url", req.URL.String())
	proxied.RawQuery = q.Encode()

	out := req.Clone(req.Context())
	out.URL = proxied
	out.Host = proxied.Host
	return base.RoundTrip(out)
}

func isMediaHost(host string) bool {
	host = strings.ToLower(host)
	// Port strip has to survive IPv6 literals like [::1]:443.
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	for _, media := range mediaHosts {
		if host == media || strings.HasSuffix(host, "."+media) {
			return true
		}
	}
	return false
}

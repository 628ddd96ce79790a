package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Strum355/log"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
)

// LegacyExecutor runs declarative request templates fetched from a backend
// registry, for platforms outside {youtube, piped}. Placeholder evaluation is
// deliberately restricted to plain variable lookup; the upstream design
// evaluated arbitrary expressions from remote config, which is not ported.
type LegacyExecutor struct {
	http    *http.Client
	apiBase string
	proxies []string
}

// MethodTemplate is the declarative request shape served by the registry.
type MethodTemplate struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Params    map[string]string `json:"params"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Transform string            `json:"transform"`
}

var (
	errNoTemplate       = errors.New("legacy: method template unavailable")
	errProxiesExhausted = errors.New("legacy: no proxy returned parseable JSON")
	errGarbageSentinel  = errors.New("legacy: upstream returned garbage sentinel")

	// Only bare variable names substitute; anything fancier is left verbatim.
	placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	jsonpRe       = regexp.MustCompile(`^\s*[\w$.]+\s*\((.*)\)\s*;?\s*$`)
)

// forbiddenHeaders would break proxy forwarding or response decoding and are
// stripped from any template.
var forbiddenHeaders = map[string]bool{
	"host":            true,
	"origin":          true,
	"referer":         true,
	"cookie":          true,
	"content-length":  true,
	"accept-encoding": true,
}

func NewLegacyExecutor() *LegacyExecutor {
	return &LegacyExecutor{
		http:    &http.Client{Timeout: 10 * time.Second},
		apiBase: viper.GetString("legacy.api_base"),
		proxies: viper.GetStringSlice("legacy.proxies"),
	}
}

// Execute fetches the named template, substitutes variables, and tries each
// configured proxy in order until one returns parseable, non-sentinel JSON.
func (e *LegacyExecutor) Execute(ctx context.Context, method string, vars map[string]string) (gjson.Result, error) {
	tmpl, err := e.template(ctx, method)
	if err != nil {
		return gjson.Result{}, err
	}

	target := substitute(tmpl.URL, vars)
	if len(tmpl.Params) > 0 {
		q := url.Values{}
		for k, v := range tmpl.Params {
			q.Set(k, substitute(v, vars))
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q.Encode()
	}

	body := substitute(tmpl.Body, vars)
	raw, err := e.tryProxies(ctx, tmpl, target, body)
	if err != nil {
		return gjson.Result{}, err
	}

	result := gjson.ParseBytes(raw)
	if tmpl.Transform != "" {
		transformed, ok := applyTransform(tmpl.Transform, result)
		if ok {
			return transformed, nil
		}
		log.WithFields(log.Fields{"transform": tmpl.Transform}).Debug("Unknown legacy transform, returning raw payload")
	}
	return result, nil
}

func (e *LegacyExecutor) template(ctx context.Context, method string) (*MethodTemplate, error) {
	if e.apiBase == "" {
		return nil, errNoTemplate
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBase+"/methods/"+url.PathEscape(method), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: registry status %d", errNoTemplate, resp.StatusCode)
	}
	var tmpl MethodTemplate
	if err := json.NewDecoder(resp.Body).Decode(&tmpl); err != nil {
		return nil, err
	}
	if tmpl.URL == "" {
		return nil, errNoTemplate
	}
	return &tmpl, nil
}

// tryProxies walks the proxy list (plus a final direct attempt) until a
// response parses as JSON and is not the known garbage sentinel.
func (e *LegacyExecutor) tryProxies(ctx context.Context, tmpl *MethodTemplate, target, body string) ([]byte, error) {
	candidates := append([]string{}, e.proxies...)
	candidates = append(candidates, "")

	for _, proxy := range candidates {
		requestURL := target
		if proxy != "" {
			requestURL = proxy + "?url=" + url.QueryEscape(target)
		}
		raw, err := e.once(ctx, tmpl, requestURL, body)
		if err != nil {
			log.WithFields(log.Fields{"proxy": proxy}).WithError(err).Debug("Legacy proxy attempt failed")
			continue
		}
		parsed, ok := parseLoose(raw)
		if !ok {
			continue
		}
		if isGarbageSentinel(parsed) {
			return nil, errGarbageSentinel
		}
		return parsed, nil
	}
	return nil, errProxiesExhausted
}

func (e *LegacyExecutor) once(ctx context.Context, tmpl *MethodTemplate, requestURL, body string) ([]byte, error) {
	method := tmpl.Method
	if method == "" {
		method = http.MethodGet
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range tmpl.Headers {
		if forbiddenHeaders[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("legacy: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// substitute replaces {{var}} placeholders from vars; unknown names are left
// in place so failures stay visible upstream.
func substitute(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// parseLoose accepts raw JSON or a JSONP-wrapped body.
func parseLoose(raw []byte) ([]byte, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if gjson.Valid(trimmed) {
		return []byte(trimmed), true
	}
	if m := jsonpRe.FindStringSubmatch(trimmed); m != nil && gjson.Valid(m[1]) {
		return []byte(m[1]), true
	}
	return nil, false
}

// isGarbageSentinel matches the well-known [-1] junk payload some upstreams
// return instead of an error status.
func isGarbageSentinel(raw []byte) bool {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return false
	}
	arr := parsed.Array()
	return len(arr) == 1 && arr[0].Type == gjson.Number && arr[0].Int() == -1
}

// applyTransform reshapes a payload through a named, whitelisted transform.
// Cover art dropped by a transform is re-attached from the raw payload.
func applyTransform(name string, raw gjson.Result) (gjson.Result, bool) {
	switch name {
	case "songList":
		songs := SongsFromLegacy(raw)
		pic := FindPic(raw)
		for i := range songs {
			if songs[i].Pic == "" {
				songs[i].Pic = pic
			}
		}
		return marshalResult(songs), true
	case "song":
		parsed := SongFromLegacy(raw)
		if parsed.Pic == "" {
			parsed.Pic = FindPic(raw)
		}
		return marshalResult(parsed), true
	default:
		return gjson.Result{}, false
	}
}

func marshalResult(v any) gjson.Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

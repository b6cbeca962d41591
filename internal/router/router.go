package router

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"factoid-api/internal/apierror"
	"factoid-api/internal/logging"
	"factoid-api/pkg/lambda"
)

var log = logging.Source("Router")

// Params holds the URL decoded path captures of a matched route
type Params map[string]string

// HandlerFunc handles a matched request. The returned value becomes the
// response body unless it already is a *lambda.Response.
type HandlerFunc func(ctx context.Context, req *lambda.Request, params Params) (any, error)

// Next continues a filter chain
type Next func(ctx context.Context, req *lambda.Request, params Params) (any, error)

// Filter wraps everything registered after it. It decides whether and when
// to call next and may rewrite the request or the outcome.
type Filter func(ctx context.Context, req *lambda.Request, params Params, next Next) (any, error)

// Route is a registered method and path pattern
type Route struct {
	Methods []string
	Path    string

	pattern *regexp.Regexp
	keys    []string
	handler HandlerFunc
}

var (
	metaChars  = regexp.MustCompile(`[-/\\^$+?.()|[\]{}]`)
	captureKey = regexp.MustCompile(`:(\w+)`)
)

func compile(path string) (*regexp.Regexp, []string) {
	path = strings.TrimRight(path, "/")

	var keys []string
	for _, m := range captureKey.FindAllStringSubmatch(path, -1) {
		keys = append(keys, m[1])
	}

	expr := metaChars.ReplaceAllString(path, `\$0`)
	expr = strings.ReplaceAll(expr, "*", ".*")
	expr = captureKey.ReplaceAllString(expr, `([^/?&#]+)`)

	return regexp.MustCompile(expr + "$"), keys
}

// Router maps requests onto handlers and runs them through the filter chain.
// Routes and filters are registered at startup; serving is safe for
// concurrent use afterwards.
type Router struct {
	routes  []*Route
	filters []Filter
	pretty  bool
}

type Option func(*Router)

// WithPrettyPrint indents JSON bodies the router renders itself
func WithPrettyPrint(pretty bool) Option {
	return func(r *Router) {
		r.pretty = pretty
	}
}

func New(opts ...Option) *Router {
	r := &Router{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On registers h for the given methods and path. Paths are made of literal
// segments, * wildcards and :name captures.
func (r *Router) On(methods []string, path string, h HandlerFunc) *Route {
	pattern, keys := compile(path)

	upper := make([]string, len(methods))
	for i, m := range methods {
		upper[i] = strings.ToUpper(m)
	}

	route := &Route{
		Methods: upper,
		Path:    path,
		pattern: pattern,
		keys:    keys,
		handler: h,
	}
	r.routes = append(r.routes, route)
	return route
}

func (r *Router) GET(path string, h HandlerFunc) *Route {
	return r.On([]string{http.MethodGet}, path, h)
}

func (r *Router) POST(path string, h HandlerFunc) *Route {
	return r.On([]string{http.MethodPost}, path, h)
}

func (r *Router) PUT(path string, h HandlerFunc) *Route {
	return r.On([]string{http.MethodPut}, path, h)
}

func (r *Router) PATCH(path string, h HandlerFunc) *Route {
	return r.On([]string{http.MethodPatch}, path, h)
}

func (r *Router) DELETE(path string, h HandlerFunc) *Route {
	return r.On([]string{http.MethodDelete}, path, h)
}

func (r *Router) OPTIONS(path string, h HandlerFunc) *Route {
	return r.On([]string{http.MethodOptions}, path, h)
}

// Use appends a filter to the chain
func (r *Router) Use(f Filter) {
	r.filters = append(r.filters, f)
}

// Routes returns the registered routes in registration order
func (r *Router) Routes() []*Route {
	return r.routes
}

func (r *Router) find(method, path string) (*Route, []string) {
	for _, route := range r.routes {
		if !hasMethod(route.Methods, method) {
			continue
		}
		if m := route.pattern.FindStringSubmatch(path); m != nil {
			return route, m[1:]
		}
	}
	return nil, nil
}

func hasMethod(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

// Match finds the first route for req and runs it through the filter chain.
// HEAD requests without a HEAD route are served by the GET route.
func (r *Router) Match(ctx context.Context, req *lambda.Request) (any, error) {
	if req == nil {
		return nil, apierror.NotFound()
	}

	method := strings.ToUpper(req.Method)
	path := strings.TrimRight(req.Path, "/")

	route, matches := r.find(method, path)
	if route == nil && method == http.MethodHead {
		route, matches = r.find(http.MethodGet, path)
	}
	if route == nil {
		log.WithFields(logrus.Fields{"method": method, "path": path}).Debug("no matching route")
		return nil, apierror.NotFound()
	}

	params := Params{}
	if len(matches) == len(route.keys) {
		for i, key := range route.keys {
			value, err := url.PathUnescape(matches[i])
			if err != nil {
				return nil, apierror.BadRequest(fmt.Sprintf("Malformed path parameter %s", key))
			}
			params[key] = value
		}
	}

	log.WithFields(logrus.Fields{"method": method, "path": path, "params": params}).Debug("matched route")
	return r.chain(0, route.handler)(ctx, req, params)
}

func (r *Router) chain(i int, h HandlerFunc) Next {
	if i >= len(r.filters) {
		return Next(h)
	}

	f, next := r.filters[i], r.chain(i+1, h)
	return func(ctx context.Context, req *lambda.Request, params Params) (any, error) {
		return f(ctx, req, params, next)
	}
}

// Serve runs Match and always produces exactly one response. Errors that
// escape the filter chain are rendered like the error responder does.
func (r *Router) Serve(ctx context.Context, req *lambda.Request) *lambda.Response {
	out, err := r.Match(ctx, req)
	if err != nil {
		return ErrorResponse(req, err, r.pretty)
	}

	if resp, ok := out.(*lambda.Response); ok && resp != nil {
		return resp
	}

	resp, err := JSONResponse(http.StatusOK, out, r.pretty)
	if err != nil {
		return ErrorResponse(req, err, r.pretty)
	}
	return resp
}

// GetHeader looks up a header case-insensitively
func GetHeader(headers map[string]string, name, def string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return def
}

// originMatcher matches an Origin against bare domains, including any
// subdomain, port and path. It returns nil for an empty domain list.
func originMatcher(domains []string) *regexp.Regexp {
	if len(domains) == 0 {
		return nil
	}

	quoted := make([]string, len(domains))
	for i, d := range domains {
		quoted[i] = regexp.QuoteMeta(d)
	}
	return regexp.MustCompile(`(?i)^(https?://)?(.*?\.)?(` + strings.Join(quoted, "|") + `)(:[0-9]+)?(/.*)?$`)
}

// IsAllowedOrigin reports whether origin (https://www.example.com) belongs
// to one of the allowed domains (example.com)
func IsAllowedOrigin(origin string, domains []string) bool {
	m := originMatcher(domains)
	return m != nil && m.MatchString(origin)
}

var refererHost = regexp.MustCompile(`(?i)^(https?://[^/?#]+)`)

// BuildXFrameOptionsHeader returns "ALLOW-FROM <url>" when the request was
// embedded from a domain in domainMapping (domain to allowed url), based on
// the Origin and Referer headers. Otherwise it returns "SAMEORIGIN".
func BuildXFrameOptionsHeader(req *lambda.Request, domainMapping map[string]string) string {
	domains := make([]string, 0, len(domainMapping))
	for d := range domainMapping {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	origin := GetHeader(req.Headers, "Origin", "")
	var host string
	if m := refererHost.FindStringSubmatch(GetHeader(req.Headers, "Referer", "")); m != nil {
		host = m[1]
	}

	for _, d := range domains {
		allowed := []string{d}
		if (origin != "" && IsAllowedOrigin(origin, allowed)) || (host != "" && IsAllowedOrigin(host, allowed)) {
			return "ALLOW-FROM " + domainMapping[d]
		}
	}
	return "SAMEORIGIN"
}

// Package routing provides the route table and path matcher for the
// request engine.
package routing

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Response is an HTTP response produced by a handler. It is a value
// consumed once by the response writer.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// NewJSONResponse builds a Response carrying a JSON body.
func NewJSONResponse(status int, body []byte) *Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &Response{Status: status, Headers: h, Body: body}
}

// RequestContext carries the per-request data handed to handlers.
// It is immutable after construction.
type RequestContext struct {
	Method     string
	Path       string
	Route      *Route
	PathParams map[string]string
	Headers    http.Header
	Query      map[string][]string
	RawBody    []byte

	// body holds the lazily parsed JSON body.
	body       interface{}
	bodyParsed bool
}

// NewRequestContext builds a RequestContext from raw request parts.
func NewRequestContext(method, path string, headers http.Header, query map[string][]string, body []byte) *RequestContext {
	return &RequestContext{
		Method:  method,
		Path:    path,
		Headers: headers,
		Query:   query,
		RawBody: body,
	}
}

// JSONBody returns the request body parsed as JSON, or nil if the body
// is empty or not valid JSON. Parsing happens once, on first use.
func (c *RequestContext) JSONBody() interface{} {
	if !c.bodyParsed {
		c.bodyParsed = true
		if len(c.RawBody) > 0 {
			var v interface{}
			if err := jsonUnmarshal(c.RawBody, &v); err == nil {
				c.body = v
			}
		}
	}
	return c.body
}

// QueryValue returns the first value for a query parameter, or "".
func (c *RequestContext) QueryValue(name string) string {
	if vals, ok := c.Query[name]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Handler produces a response for a matched request.
type Handler interface {
	Serve(ctx *RequestContext) (*Response, error)
}

// Route binds a method and compiled path pattern to a handler.
// Routes are immutable once built; the active set is replaced
// wholesale on reload, never mutated in place.
type Route struct {
	Method  string
	Pattern string
	Mutates bool
	Handler Handler

	re     *regexp.Regexp
	params []string
}

// NewRoute compiles a path template into a Route. Segments written as
// {name} bind a named capture matching one non-/ segment; all other
// segments match literally.
func NewRoute(method, pattern string, mutates bool, h Handler) (*Route, error) {
	re, params, err := compilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("route %s %s: %w", method, pattern, err)
	}
	return &Route{
		Method:  strings.ToUpper(method),
		Pattern: pattern,
		Mutates: mutates,
		Handler: h,
		re:      re,
		params:  params,
	}, nil
}

var paramSegment = regexp.MustCompile(`^\{([a-zA-Z_][a-zA-Z0-9_]*)\}$`)

// compilePattern turns "/api/users/{id}" into an anchored regexp with
// one capture group per {name} segment.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, nil, fmt.Errorf("pattern must start with /")
	}

	segments := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	var sb strings.Builder
	sb.WriteString("^")
	var params []string
	for _, seg := range segments {
		sb.WriteString("/")
		if m := paramSegment.FindStringSubmatch(seg); m != nil {
			params = append(params, m[1])
			sb.WriteString(`([^/]+)`)
			continue
		}
		sb.WriteString(regexp.QuoteMeta(seg))
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, err
	}
	return re, params, nil
}

// match reports whether path matches this route's pattern, returning
// the bound path parameters.
func (r *Route) match(path string) (map[string]string, bool) {
	m := r.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(r.params))
	for i, name := range r.params {
		params[name] = m[i+1]
	}
	return params, true
}

// Summary returns the human-readable "METHOD /path" form of the route.
func (r *Route) Summary() string {
	return r.Method + " " + r.Pattern
}

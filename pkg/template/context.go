package template

import "net/http"

// Context holds the per-request data available to template expressions.
type Context struct {
	// PathParams are the named path segment bindings.
	PathParams map[string]string
	// Query holds the request query parameters.
	Query map[string][]string
	// Headers holds the raw request headers.
	Headers http.Header
	// Body is the parsed JSON request body, or nil.
	Body interface{}
}

// NewContext builds a Context from request parts. Nil maps are
// replaced by empty ones so lookups never panic.
func NewContext(pathParams map[string]string, query map[string][]string, headers http.Header, body interface{}) *Context {
	if pathParams == nil {
		pathParams = map[string]string{}
	}
	if query == nil {
		query = map[string][]string{}
	}
	if headers == nil {
		headers = http.Header{}
	}
	return &Context{
		PathParams: pathParams,
		Query:      query,
		Headers:    headers,
		Body:       body,
	}
}

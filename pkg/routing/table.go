package routing

import (
	"encoding/json"
	"strings"
)

// jsonUnmarshal is a seam for RequestContext body parsing.
func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Table is an ordered, immutable list of routes. Matching walks the
// list in declaration order; the first route whose method and pattern
// both match wins. A path match with the wrong method falls through to
// "no route found".
type Table struct {
	routes []*Route
}

// NewTable builds a Table from routes in declaration order.
func NewTable(routes []*Route) *Table {
	return &Table{routes: routes}
}

// Match resolves a method and path to a route and its bound path
// parameters. Returns false when no route matches.
func (t *Table) Match(method, path string) (*Route, map[string]string, bool) {
	method = strings.ToUpper(method)
	for _, rt := range t.routes {
		if rt.Method != method {
			continue
		}
		if params, ok := rt.match(path); ok {
			return rt, params, true
		}
	}
	return nil, nil, false
}

// Len returns the number of routes in the table.
func (t *Table) Len() int { return len(t.routes) }

// Summaries returns the "METHOD /path" form of every route, in
// declaration order. Used by the not-found response.
func (t *Table) Summaries() []string {
	out := make([]string, len(t.routes))
	for i, rt := range t.routes {
		out[i] = rt.Summary()
	}
	return out
}

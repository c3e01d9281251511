// Package template expands {{expr}} placeholders inside JSON-like
// response bodies. Rendering is best-effort: unknown expressions
// produce an empty string, never an error.
package template

import (
	"fmt"
	mathrand "math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// templateRegex matches {{expression}} patterns with optional whitespace.
var templateRegex = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// randomIntPattern matches random.int(min, max).
var randomIntPattern = regexp.MustCompile(`^random\.int\((-?\d+),\s*(-?\d+)\)$`)

// Render expands every {{expression}} token in s using ctx. Tokens are
// resolved independently; two {{now}} tokens in one string may differ
// by the time between evaluations.
func Render(s string, ctx *Context) string {
	return templateRegex.ReplaceAllStringFunc(s, func(match string) string {
		inner := templateRegex.FindStringSubmatch(match)
		if len(inner) < 2 {
			return match
		}
		return evaluate(strings.TrimSpace(inner[1]), ctx)
	})
}

// RenderValue walks an arbitrary JSON-like value and renders every
// string found anywhere in the tree. Non-string scalars are returned
// untouched.
func RenderValue(v interface{}, ctx *Context) interface{} {
	switch val := v.(type) {
	case string:
		return Render(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = RenderValue(item, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = RenderValue(item, ctx)
		}
		return out
	default:
		return v
	}
}

// evaluate resolves a single expression. Unknown expressions yield "".
func evaluate(expr string, ctx *Context) string {
	switch expr {
	case "now":
		return time.Now().Format(time.RFC3339)
	case "uuid":
		return uuid.NewString()
	}

	if m := randomIntPattern.FindStringSubmatch(expr); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if hi < lo {
			lo, hi = hi, lo
		}
		// Inclusive of both ends.
		return strconv.Itoa(lo + mathrand.IntN(hi-lo+1))
	}

	if ctx == nil {
		return ""
	}

	switch {
	case strings.HasPrefix(expr, "path."):
		return ctx.PathParams[expr[5:]]
	case strings.HasPrefix(expr, "query."):
		if vals, ok := ctx.Query[expr[6:]]; ok && len(vals) > 0 {
			return vals[0]
		}
		return ""
	case strings.HasPrefix(expr, "header."):
		key := http.CanonicalHeaderKey(expr[7:])
		if vals, ok := ctx.Headers[key]; ok && len(vals) > 0 {
			return vals[0]
		}
		return ""
	case strings.HasPrefix(expr, "body."):
		return lookupBody(expr[5:], ctx.Body)
	}

	return ""
}

// lookupBody walks a dotted path through the parsed JSON body.
// List elements are addressable by numeric segments.
func lookupBody(path string, body interface{}) string {
	current := body
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			val, ok := v[part]
			if !ok {
				return ""
			}
			current = val
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return ""
			}
			current = v[idx]
		default:
			return ""
		}
	}
	return formatValue(current)
}

// formatValue converts a scalar to its string representation.
func formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

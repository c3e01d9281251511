package engine

import "net/http"

// applyCORS sets permissive cross-origin headers on every response.
// Browsers calling the mock from a local frontend need these; the
// server never restricts origins.
func applyCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
}

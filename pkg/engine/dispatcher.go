package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/perturbd/perturbd/pkg/chaos"
	"github.com/perturbd/perturbd/pkg/metrics"
	"github.com/perturbd/perturbd/pkg/replay"
	"github.com/perturbd/perturbd/pkg/resource"
	"github.com/perturbd/perturbd/pkg/routing"
)

const (
	// maxBodyBytes caps request body reads.
	maxBodyBytes = 1 << 20

	healthPath      = "/__perturbd/health"
	metricsEndpoint = "/__perturbd/metrics"
)

// dispatch runs the fixed per-request pipeline against this snapshot:
// CORS, chaos latency and failure injection, replay lookup, route
// resolution, authorization, handler invocation and response emission.
// The snapshot is captured once by the caller, so a hot reload landing
// mid-request never changes what this request observes.
func (s *Snapshot) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	applyCORS(w.Header())
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	path := normalizePath(r.URL.Path)

	switch path {
	case healthPath:
		s.serveHealth(w)
		return
	case metricsEndpoint:
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	body, err := readBody(r)
	if err != nil {
		msg := "failed to read request body"
		if errors.Is(err, errBodyTooLarge) {
			msg = "request body exceeds the size limit"
		}
		resp := errorResponse(http.StatusBadRequest, "bad_request", msg, nil)
		s.emit(w, r, path, nil, resp, start)
		return
	}

	decision := s.injector.Decide(r.Method, path)
	if decision.Delay > 0 {
		time.Sleep(decision.Delay)
	}
	if decision.Fail {
		metrics.ChaosInjectionsTotal.WithLabelValues(strconv.Itoa(decision.Status)).Inc()
		resp := errorResponse(decision.Status, chaos.ErrorCode, "synthetic failure injected", map[string]interface{}{
			"method": r.Method,
			"path":   path,
		})
		s.emit(w, r, path, body, resp, start)
		return
	}

	if s.replayer != nil {
		if item := s.replayer.Find(r.Method, path, r.URL.RawQuery, r.Header, body); item != nil {
			metrics.ReplayHitsTotal.Inc()
			s.emit(w, r, path, body, responseFromItem(item), start)
			return
		}
		metrics.ReplayMissesTotal.Inc()
		if s.missPolicy == replay.MissError {
			resp := errorResponse(http.StatusNotImplemented, "replay_miss", "no recorded response matches this request", map[string]interface{}{
				"method": r.Method,
				"path":   path,
			})
			s.emit(w, r, path, body, resp, start)
			return
		}
	}

	route, params, ok := s.table.Match(r.Method, path)
	if !ok {
		resp := errorResponse(http.StatusNotFound, "not_found", "no route matches this request", map[string]interface{}{
			"method":          r.Method,
			"path":            path,
			"availableRoutes": s.table.Summaries(),
		})
		s.emit(w, r, path, body, resp, start)
		return
	}

	if route.Mutates && !s.authorized(r) {
		resp := errorResponse(http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", map[string]interface{}{
			"hint": "send an Authorization: Bearer <token> header",
		})
		s.emit(w, r, path, body, resp, start)
		return
	}

	ctx := routing.NewRequestContext(r.Method, path, r.Header, r.URL.Query(), body)
	ctx.Route = route
	ctx.PathParams = params

	resp := s.invoke(ctx)
	s.emit(w, r, path, body, resp, start)
}

// invoke runs the matched handler, converting returned errors and
// panics into error responses so nothing escapes to the transport
// layer uncaught.
func (s *Snapshot) invoke(ctx *routing.RequestContext) (resp *routing.Response) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("handler panicked", "method", ctx.Method, "path", ctx.Path, "panic", p)
			resp = internalErrorResponse()
		}
	}()

	resp, err := ctx.Route.Handler.Serve(ctx)
	if err != nil {
		return s.errorToResponse(ctx, err)
	}
	return resp
}

// errorToResponse maps a handler error onto the response taxonomy.
func (s *Snapshot) errorToResponse(ctx *routing.RequestContext, err error) *routing.Response {
	if sce, ok := err.(resource.StatusCodeError); ok {
		return errorResponse(sce.StatusCode(), codeForStatus(sce.StatusCode()), sce.Error(), map[string]interface{}{
			"method": ctx.Method,
			"path":   ctx.Path,
		})
	}
	s.log.Error("handler failed", "method", ctx.Method, "path", ctx.Path, "error", err)
	return internalErrorResponse()
}

// emit writes the response, records it when recording is active, and
// updates the request metrics. Record failures never fail the request.
func (s *Snapshot) emit(w http.ResponseWriter, r *http.Request, path string, body []byte, resp *routing.Response, start time.Time) {
	for name, vals := range resp.Headers {
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			s.log.Warn("failed to write response body", "method", r.Method, "path", path, "error", err)
		}
	}

	if s.recorder != nil {
		s.recorder.Record(&replay.Item{
			Request:  replay.CaptureRequest(r.Method, path, r.URL.RawQuery, r.Header, body),
			Response: replay.CaptureResponse(resp.Status, resp.Headers, resp.Body),
		})
	}

	status := strconv.Itoa(resp.Status)
	metrics.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
}

// authorized checks the bearer token on mutating routes. An exact
// match is required; with no token configured every request passes.
func (s *Snapshot) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.authToken
}

func (s *Snapshot) serveHealth(w http.ResponseWriter) {
	payload := map[string]interface{}{
		"status":    "ok",
		"routes":    s.table.Len(),
		"resources": len(s.stores),
		"time":      time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

var errBodyTooLarge = errors.New("request body too large")

// readBody drains the request body, rejecting bodies over the cap.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodyBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// normalizePath collapses duplicate slashes and strips a trailing
// slash so that "/api//users/" resolves like "/api/users".
func normalizePath(path string) string {
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}

// responseFromItem rebuilds a Response from a recorded replay item.
func responseFromItem(item *replay.Item) *routing.Response {
	headers := http.Header{}
	for name, v := range item.Response.Headers {
		headers.Set(name, v)
	}
	return &routing.Response{
		Status:  item.Response.Status,
		Headers: headers,
		Body:    item.Response.Body(),
	}
}

// errorResponse builds the JSON error envelope. Every error body
// carries at least an error code and a message; extra fields such as
// the available routes on a 404 are merged in.
func errorResponse(status int, code, message string, extra map[string]interface{}) *routing.Response {
	payload := map[string]interface{}{
		"error":   code,
		"message": message,
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, _ := json.Marshal(payload)
	return routing.NewJSONResponse(status, body)
}

func internalErrorResponse() *routing.Response {
	return errorResponse(http.StatusInternalServerError, "internal", "internal server error", map[string]interface{}{
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// codeForStatus maps store error statuses to machine-readable codes.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal"
	}
}

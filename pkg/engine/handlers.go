package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/perturbd/perturbd/pkg/resource"
	"github.com/perturbd/perturbd/pkg/routing"
	"github.com/perturbd/perturbd/pkg/template"
)

// Default pagination for collection listings.
const (
	defaultListLimit  = 50
	defaultListOffset = 0
)

// listHandler serves GET /api/{name}.
type listHandler struct {
	store *resource.Store
}

func (h *listHandler) Serve(ctx *routing.RequestContext) (*routing.Response, error) {
	limit := defaultListLimit
	offset := defaultListOffset
	if v := ctx.QueryValue("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := ctx.QueryValue("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	records := h.store.List(limit, offset)
	body, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return routing.NewJSONResponse(http.StatusOK, body), nil
}

// createHandler serves POST /api/{name}.
type createHandler struct {
	store  *resource.Store
	base   string
	strict bool
	log    *slog.Logger
}

func (h *createHandler) Serve(ctx *routing.RequestContext) (*routing.Response, error) {
	rec, err := decodeRecord(ctx, h.store.Name())
	if err != nil {
		return nil, err
	}

	if err := h.store.Validate(rec); err != nil {
		if h.strict {
			return nil, err
		}
		h.log.Warn("record failed schema validation (lenient mode)", "resource", h.store.Name(), "error", err)
	}

	created, err := h.store.Create(rec)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(created)
	if err != nil {
		return nil, err
	}
	resp := routing.NewJSONResponse(http.StatusCreated, body)
	resp.Headers.Set("Location", fmt.Sprintf("%s/%v", h.base, created[h.store.IDField()]))
	return resp, nil
}

// readHandler serves GET /api/{name}/{id}.
type readHandler struct {
	store *resource.Store
}

func (h *readHandler) Serve(ctx *routing.RequestContext) (*routing.Response, error) {
	rec, err := h.store.Read(ctx.PathParams["id"])
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return routing.NewJSONResponse(http.StatusOK, body), nil
}

// updateHandler serves PUT /api/{name}/{id}.
type updateHandler struct {
	store  *resource.Store
	strict bool
	log    *slog.Logger
}

func (h *updateHandler) Serve(ctx *routing.RequestContext) (*routing.Response, error) {
	patch, err := decodeRecord(ctx, h.store.Name())
	if err != nil {
		return nil, err
	}

	updated, err := h.store.Update(ctx.PathParams["id"], patch)
	if err != nil {
		return nil, err
	}

	if err := h.store.Validate(updated); err != nil {
		if h.strict {
			return nil, err
		}
		h.log.Warn("record failed schema validation (lenient mode)", "resource", h.store.Name(), "error", err)
	}

	body, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}
	return routing.NewJSONResponse(http.StatusOK, body), nil
}

// deleteHandler serves DELETE /api/{name}/{id}.
type deleteHandler struct {
	store *resource.Store
}

func (h *deleteHandler) Serve(ctx *routing.RequestContext) (*routing.Response, error) {
	id := ctx.PathParams["id"]
	if !h.store.Delete(id) {
		return nil, &resource.NotFoundError{Resource: h.store.Name(), ID: id}
	}
	return &routing.Response{Status: http.StatusNoContent, Headers: http.Header{}}, nil
}

// staticHandler serves a configured fixed response, optionally
// template-rendered.
type staticHandler struct {
	status     int
	response   interface{}
	templating bool
}

func (h *staticHandler) Serve(ctx *routing.RequestContext) (*routing.Response, error) {
	value := h.response
	if h.templating && value != nil {
		tmplCtx := template.NewContext(ctx.PathParams, ctx.Query, ctx.Headers, ctx.JSONBody())
		value = template.RenderValue(value, tmplCtx)
	}

	switch v := value.(type) {
	case nil:
		return &routing.Response{Status: h.status, Headers: http.Header{}}, nil
	case string:
		resp := &routing.Response{Status: h.status, Headers: http.Header{}, Body: []byte(v)}
		resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
		return resp, nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return routing.NewJSONResponse(h.status, body), nil
	}
}

// echoHandler responds with the details of the incoming request.
type echoHandler struct {
	status int
}

func (h *echoHandler) Serve(ctx *routing.RequestContext) (*routing.Response, error) {
	headers := make(map[string]string, len(ctx.Headers))
	for name, vals := range ctx.Headers {
		if len(vals) > 0 {
			headers[name] = vals[0]
		}
	}

	echo := map[string]interface{}{
		"method":  ctx.Method,
		"path":    ctx.Path,
		"headers": headers,
		"query":   ctx.Query,
	}
	if body := ctx.JSONBody(); body != nil {
		echo["body"] = body
	} else if len(ctx.RawBody) > 0 {
		echo["body"] = string(ctx.RawBody)
	}

	body, err := json.Marshal(echo)
	if err != nil {
		return nil, err
	}
	return routing.NewJSONResponse(h.status, body), nil
}

// decodeRecord parses the request body as a JSON object.
func decodeRecord(ctx *routing.RequestContext, resourceName string) (resource.Record, error) {
	if len(ctx.RawBody) == 0 {
		return nil, &resource.ValidationError{Resource: resourceName, Message: "request body is required"}
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(ctx.RawBody, &rec); err != nil {
		return nil, &resource.ValidationError{Resource: resourceName, Message: "request body must be a JSON object"}
	}
	return resource.Record(rec), nil
}

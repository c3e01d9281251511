package replay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
)

// Recorder appends captured request/response pairs to an NDJSON file.
// Appends are serialized so concurrent requests never interleave
// partial lines. Write failures are logged and swallowed; recording
// must never fail the primary request.
type Recorder struct {
	mu   sync.Mutex
	path string
	file *os.File
	log  *slog.Logger
}

// NewRecorder opens (or creates) the record file for appending.
func NewRecorder(path string, log *slog.Logger) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Recorder{path: path, file: f, log: log}, nil
}

// Record appends one item as a single NDJSON line. Best-effort.
func (r *Recorder) Record(item *Item) {
	data, err := json.Marshal(item)
	if err != nil {
		r.log.Warn("failed to encode replay item", "error", err)
		return
	}
	data = append(data, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.Write(data); err != nil {
		r.log.Warn("failed to append replay item", "file", r.path, "error", err)
	}
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// CaptureRequest builds the recorded shape of a request.
func CaptureRequest(method, path, rawQuery string, headers http.Header, body []byte) RequestShape {
	shape := RequestShape{
		Method: method,
		Path:   path,
		Query:  rawQuery,
		Body:   string(body),
	}
	if len(headers) > 0 {
		shape.Headers = make(map[string]string, len(headers))
		for name, vals := range headers {
			if len(vals) > 0 {
				shape.Headers[name] = vals[0]
			}
		}
	}
	return shape
}

// CaptureResponse builds the recorded shape of a response.
func CaptureResponse(status int, headers http.Header, body []byte) ResponseShape {
	shape := ResponseShape{Status: status}
	if len(headers) > 0 {
		shape.Headers = make(map[string]string, len(headers))
		for name, vals := range headers {
			if len(vals) > 0 {
				shape.Headers[name] = vals[0]
			}
		}
	}
	shape.SetBody(body)
	return shape
}

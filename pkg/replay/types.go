// Package replay captures request/response pairs to a newline-delimited
// JSON log and serves them back to matching requests.
package replay

import (
	"encoding/base64"
	"errors"
)

// Errors for the replay subsystem.
var (
	// ErrCorrupted is returned when loading aborts after an excessive
	// run of consecutive malformed lines.
	ErrCorrupted = errors.New("replay log corrupted")
)

// Mode selects the record/replay behavior.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
)

// IsValid checks if the mode is valid.
func (m Mode) IsValid() bool {
	switch m {
	case ModeOff, ModeRecord, ModeReplay, "":
		return true
	default:
		return false
	}
}

// MissPolicy selects what happens when replay finds no matching item.
type MissPolicy string

const (
	// MissFallback continues to normal routing, as if replay were off.
	MissFallback MissPolicy = "fallback"
	// MissError responds with 501 so gaps in the replay set are visible.
	MissError MissPolicy = "error"
)

// IsValid checks if the miss policy is valid.
func (p MissPolicy) IsValid() bool {
	switch p {
	case MissFallback, MissError, "":
		return true
	default:
		return false
	}
}

// MatchCriteria selects which request properties must be equal for a
// replay item to answer an incoming request.
type MatchCriteria struct {
	Method bool `json:"method,omitempty" yaml:"method,omitempty"`
	Path   bool `json:"path,omitempty" yaml:"path,omitempty"`
	Query  bool `json:"query,omitempty" yaml:"query,omitempty"`
	Body   bool `json:"body,omitempty" yaml:"body,omitempty"`
	// Headers lists header names compared case-insensitively.
	Headers []string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// DefaultMatchCriteria matches on method and path.
func DefaultMatchCriteria() MatchCriteria {
	return MatchCriteria{Method: true, Path: true}
}

// RequestShape is the captured view of a request.
type RequestShape struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ResponseShape is the captured view of a response. The body is
// base64-encoded so binary payloads survive the NDJSON log.
type ResponseShape struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	BodyB64 string            `json:"body,omitempty"`
}

// Body decodes the captured response body.
func (r *ResponseShape) Body() []byte {
	if r.BodyB64 == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(r.BodyB64)
	if err != nil {
		return nil
	}
	return data
}

// SetBody stores the response body base64-encoded.
func (r *ResponseShape) SetBody(body []byte) {
	if len(body) == 0 {
		r.BodyB64 = ""
		return
	}
	r.BodyB64 = base64.StdEncoding.EncodeToString(body)
}

// Item is one persisted request/response pair. Immutable once
// appended; the log is never rewritten in place.
type Item struct {
	Request  RequestShape  `json:"request"`
	Response ResponseShape `json:"response"`
}

// Package resource implements in-memory CRUD collections for mock APIs.
package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Record is a single stored record: field name to JSON-compatible value.
type Record map[string]interface{}

// Store is a thread-safe keyed collection for one configured resource.
// Records are copied on the way in and out, so callers never alias
// internal state.
type Store struct {
	mu      sync.RWMutex
	name    string
	idField string
	records map[string]Record
	schema  *jsonschema.Schema
}

// Options configures a Store.
type Options struct {
	// Name is the resource name (e.g. "users").
	Name string
	// IDField is the field holding the record id (default "id").
	IDField string
	// Seed is the initial data loaded into the store.
	Seed []map[string]interface{}
	// Schema is an optional JSON Schema that records must satisfy.
	Schema map[string]interface{}
}

// NewStore creates a Store and loads its seed data.
// Seed records without an id get one generated.
func NewStore(opts Options) (*Store, error) {
	idField := opts.IDField
	if idField == "" {
		idField = "id"
	}

	s := &Store{
		name:    opts.Name,
		idField: idField,
		records: make(map[string]Record),
	}

	if opts.Schema != nil {
		sch, err := compileSchema(opts.Name, opts.Schema)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", opts.Name, err)
		}
		s.schema = sch
	}

	for i, seed := range opts.Seed {
		rec := copyRecord(seed)
		id := idString(rec[idField])
		if id == "" {
			id = uuid.NewString()
			rec[idField] = id
		}
		if _, exists := s.records[id]; exists {
			return nil, fmt.Errorf("resource %q: duplicate id %q in seed data at index %d", opts.Name, id, i)
		}
		s.records[id] = rec
	}

	return s, nil
}

func compileSchema(name string, raw map[string]interface{}) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := name + "-schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// Name returns the resource name.
func (s *Store) Name() string { return s.name }

// IDField returns the configured id field name.
func (s *Store) IDField() string { return s.idField }

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Validate checks a record against the resource schema, if one is configured.
func (s *Store) Validate(rec Record) error {
	if s.schema == nil {
		return nil
	}
	if err := s.schema.Validate(map[string]interface{}(rec)); err != nil {
		return &ValidationError{Resource: s.name, Message: err.Error()}
	}
	return nil
}

// Create stores a copy of rec, generating an id when the id field is
// absent or null. Returns the stored copy including the id.
func (s *Store) Create(rec Record) (Record, error) {
	stored := copyRecord(rec)
	id := idString(stored[s.idField])
	if id == "" {
		id = uuid.NewString()
		stored[s.idField] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return nil, &ConflictError{Resource: s.name, ID: id}
	}
	s.records[id] = stored
	return copyRecord(stored), nil
}

// Read returns a copy of the record with the given id.
func (s *Store) Read(id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{Resource: s.name, ID: id}
	}
	return copyRecord(rec), nil
}

// Update merges patch into the stored record. Patch fields win on
// collision, except the id field, which keeps its stored value.
func (s *Store) Update(id string, patch Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{Resource: s.name, ID: id}
	}

	merged := copyRecord(rec)
	for k, v := range patch {
		merged[k] = copyValue(v)
	}
	// The id field is immutable regardless of what the patch carries.
	merged[s.idField] = id

	s.records[id] = merged
	return copyRecord(merged), nil
}

// Delete removes the record with the given id and reports whether a
// removal occurred. Deleting twice is a no-op on the second call.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// List returns copies of stored records sorted by the string form of
// their id ascending, after applying offset and limit. Offset is
// clamped to >= 0 and limit to >= 1.
func (s *Store) List(limit, offset int) []Record {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Record, 0, limit)
	for _, id := range ids {
		if offset > 0 {
			offset--
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, copyRecord(s.records[id]))
	}
	s.mu.RUnlock()

	return out
}

// idString converts an id value to its string form. Non-string scalars
// are formatted; nil yields "".
func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		// JSON numbers decode as float64; keep integral ids readable.
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%v", id)
	default:
		return fmt.Sprintf("%v", id)
	}
}

// copyRecord deep-copies a record.
func copyRecord(rec map[string]interface{}) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue deep-copies a JSON-compatible value.
func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(copyRecord(val))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return val
	}
}

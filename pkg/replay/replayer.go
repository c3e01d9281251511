package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// maxConsecutiveBadLines aborts a load that hits this many malformed
// lines in a row. Occasional bad lines are tolerated and counted.
const maxConsecutiveBadLines = 25

// Replayer holds an ordered, read-only set of recorded items and
// answers incoming requests with the first match under the configured
// criteria. The item list is immutable after load, so concurrent
// lookups need no locking.
type Replayer struct {
	items    []*Item
	criteria MatchCriteria

	// Skipped counts malformed lines tolerated during load.
	Skipped int
}

// Load reads every line of an NDJSON replay log into memory, in file
// order. Malformed lines are skipped and counted; the load aborts
// with ErrCorrupted after maxConsecutiveBadLines consecutive failures.
func Load(path string, criteria MatchCriteria) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay log: %w", err)
	}
	defer func() { _ = f.Close() }()

	rp := &Replayer{criteria: criteria}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
	consecutive := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			rp.Skipped++
			consecutive++
			if consecutive >= maxConsecutiveBadLines {
				return nil, fmt.Errorf("%w: %d consecutive bad lines ending at line %d", ErrCorrupted, consecutive, line)
			}
			continue
		}
		consecutive = 0
		rp.items = append(rp.items, &item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay log: %w", err)
	}

	return rp, nil
}

// Len returns the number of loaded items.
func (rp *Replayer) Len() int { return len(rp.items) }

// Find scans items in load order and returns the first whose recorded
// request matches the incoming one. Deterministic linear scan; no
// scoring or best-match.
func (rp *Replayer) Find(method, path, rawQuery string, headers http.Header, body []byte) *Item {
	for _, item := range rp.items {
		if rp.matches(&item.Request, method, path, rawQuery, headers, body) {
			return item
		}
	}
	return nil
}

func (rp *Replayer) matches(rec *RequestShape, method, path, rawQuery string, headers http.Header, body []byte) bool {
	c := rp.criteria
	if c.Method && !strings.EqualFold(rec.Method, method) {
		return false
	}
	if c.Path && rec.Path != path {
		return false
	}
	if c.Query && rec.Query != rawQuery {
		return false
	}
	if c.Body && rec.Body != string(body) {
		return false
	}
	for _, name := range c.Headers {
		want := lookupHeader(rec.Headers, name)
		got := headers.Get(name)
		if want != got {
			return false
		}
	}
	return true
}

// lookupHeader finds a recorded header value by case-insensitive name.
func lookupHeader(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Package chaos injects artificial latency and randomized failures
// into request handling to exercise client resilience.
package chaos

import (
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrorCode is the machine-readable error code carried by synthetic
// failure responses.
const ErrorCode = "chaos"

// Config configures chaos injection. The zero value disables it.
type Config struct {
	// ArtificialLatencyMs is a process-wide blocking delay applied to
	// every request before routing.
	ArtificialLatencyMs int `json:"artificialLatencyMs,omitempty" yaml:"artificialLatencyMs,omitempty"`
	// FailRate is the process-wide probability in [0,1] that a request
	// is aborted with a synthetic failure.
	FailRate float64 `json:"chaosFailRate,omitempty" yaml:"chaosFailRate,omitempty"`
	// Rules are per-path overrides evaluated in declaration order.
	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Rule overrides latency and failure behavior for matching requests.
type Rule struct {
	// PathPattern is a regular expression matched against the path.
	PathPattern string `json:"pathPattern" yaml:"pathPattern"`
	// Methods restricts the rule to the listed methods (empty = all).
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	// LatencyMinMs/LatencyMaxMs bound a uniformly drawn extra delay.
	LatencyMinMs int `json:"latencyMinMs,omitempty" yaml:"latencyMinMs,omitempty"`
	LatencyMaxMs int `json:"latencyMaxMs,omitempty" yaml:"latencyMaxMs,omitempty"`
	// FailRate overrides the global failure rate for matching requests.
	FailRate *float64 `json:"failRate,omitempty" yaml:"failRate,omitempty"`
	// StatusWeights selects the synthetic status code by weighted
	// random draw ("500": 3, "503": 1). Empty means 500.
	StatusWeights map[string]int `json:"statusWeights,omitempty" yaml:"statusWeights,omitempty"`
	// SucceedAfterAttempts makes matching requests fail until this
	// many attempts have been observed for the route.
	SucceedAfterAttempts int `json:"succeedAfterAttempts,omitempty" yaml:"succeedAfterAttempts,omitempty"`
	// SucceedAfterSeconds makes matching requests fail until this many
	// seconds have elapsed since the first tracked attempt.
	SucceedAfterSeconds int `json:"succeedAfterSeconds,omitempty" yaml:"succeedAfterSeconds,omitempty"`
	// WindowSeconds bounds the attempt-tracking window. Counters older
	// than the window are treated as reset. Default 60.
	WindowSeconds int `json:"windowSeconds,omitempty" yaml:"windowSeconds,omitempty"`
}

// Decision is the outcome of a chaos evaluation for one request.
type Decision struct {
	// Delay is the blocking latency to apply before routing.
	Delay time.Duration
	// Fail indicates the request must be aborted with Status.
	Fail bool
	// Status is the synthetic status code when Fail is set.
	Status int
}

type compiledRule struct {
	re      *regexp.Regexp
	methods map[string]bool
	rule    Rule
}

// attemptState tracks retry-simulation attempts for one route key.
type attemptState struct {
	attempts int
	first    time.Time
}

// Injector evaluates chaos configuration per request. The attempt
// tracker is the only mutable cross-request state and is guarded by
// the mutex along with the rng.
type Injector struct {
	cfg   Config
	rules []compiledRule

	mu       sync.Mutex
	rng      *rand.Rand
	attempts map[string]*attemptState
}

// New compiles a chaos configuration. Rates are clamped to [0,1].
func New(cfg Config) (*Injector, error) {
	cfg.FailRate = clampRate(cfg.FailRate)

	inj := &Injector{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		attempts: make(map[string]*attemptState),
	}

	for i, rule := range cfg.Rules {
		re, err := regexp.Compile(rule.PathPattern)
		if err != nil {
			return nil, fmt.Errorf("chaos rule %d: invalid pathPattern %q: %w", i, rule.PathPattern, err)
		}
		methods := make(map[string]bool, len(rule.Methods))
		for _, m := range rule.Methods {
			methods[strings.ToUpper(m)] = true
		}
		if rule.FailRate != nil {
			clamped := clampRate(*rule.FailRate)
			rule.FailRate = &clamped
		}
		if rule.WindowSeconds <= 0 {
			rule.WindowSeconds = 60
		}
		inj.rules = append(inj.rules, compiledRule{re: re, methods: methods, rule: rule})
	}

	return inj, nil
}

// Decide evaluates chaos for one request. The first matching rule
// overrides the global latency and failure rate; with no match the
// global values apply.
func (inj *Injector) Decide(method, path string) Decision {
	d := Decision{Delay: time.Duration(inj.cfg.ArtificialLatencyMs) * time.Millisecond}

	method = strings.ToUpper(method)
	matched := inj.matchRule(method, path)

	inj.mu.Lock()
	defer inj.mu.Unlock()

	if matched != nil {
		rule := matched.rule
		if rule.LatencyMaxMs > 0 {
			lo, hi := rule.LatencyMinMs, rule.LatencyMaxMs
			if hi < lo {
				lo, hi = hi, lo
			}
			extra := lo
			if hi > lo {
				extra = lo + inj.rng.Intn(hi-lo+1)
			}
			d.Delay += time.Duration(extra) * time.Millisecond
		}

		if rule.SucceedAfterAttempts > 0 || rule.SucceedAfterSeconds > 0 {
			if inj.trackedFailure(method+" "+path, rule) {
				d.Fail = true
				d.Status = inj.pickStatus(rule.StatusWeights)
			}
			return d
		}

		rate := inj.cfg.FailRate
		if rule.FailRate != nil {
			rate = *rule.FailRate
		}
		if rate > 0 && inj.rng.Float64() < rate {
			d.Fail = true
			d.Status = inj.pickStatus(rule.StatusWeights)
		}
		return d
	}

	if inj.cfg.FailRate > 0 && inj.rng.Float64() < inj.cfg.FailRate {
		d.Fail = true
		d.Status = http.StatusInternalServerError
	}
	return d
}

func (inj *Injector) matchRule(method, path string) *compiledRule {
	for i := range inj.rules {
		cr := &inj.rules[i]
		if len(cr.methods) > 0 && !cr.methods[method] {
			continue
		}
		if cr.re.MatchString(path) {
			return cr
		}
	}
	return nil
}

// trackedFailure implements "succeed only after N prior attempts or T
// elapsed seconds". Counters older than the rule window are reset
// explicitly before use. Caller holds inj.mu.
func (inj *Injector) trackedFailure(key string, rule Rule) bool {
	now := time.Now()
	window := time.Duration(rule.WindowSeconds) * time.Second

	st := inj.attempts[key]
	if st == nil || now.Sub(st.first) > window {
		st = &attemptState{first: now}
		inj.attempts[key] = st
	}
	st.attempts++

	if len(inj.attempts) > 4096 {
		inj.evictStale(now, window)
	}

	if rule.SucceedAfterAttempts > 0 && st.attempts > rule.SucceedAfterAttempts {
		return false
	}
	if rule.SucceedAfterSeconds > 0 && now.Sub(st.first) >= time.Duration(rule.SucceedAfterSeconds)*time.Second {
		return false
	}
	return true
}

// evictStale drops tracked counters whose window has expired.
// Caller holds inj.mu.
func (inj *Injector) evictStale(now time.Time, window time.Duration) {
	for k, st := range inj.attempts {
		if now.Sub(st.first) > window {
			delete(inj.attempts, k)
		}
	}
}

// pickStatus draws a status code from the weighted set, defaulting to
// 500 when the set is empty or malformed. Caller holds inj.mu.
func (inj *Injector) pickStatus(weights map[string]int) int {
	total := 0
	type entry struct {
		status int
		weight int
	}
	var entries []entry
	for code, w := range weights {
		status, err := strconv.Atoi(code)
		if err != nil || w <= 0 || status < 100 || status > 599 {
			continue
		}
		entries = append(entries, entry{status, w})
		total += w
	}
	if total == 0 {
		return http.StatusInternalServerError
	}
	// Map iteration order is random; sort for a stable draw.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].status > entries[j].status; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
	roll := inj.rng.Intn(total)
	for _, e := range entries {
		roll -= e.weight
		if roll < 0 {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func clampRate(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

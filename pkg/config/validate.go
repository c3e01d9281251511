package config

import (
	"fmt"
	"strings"
)

// ValidationError is a single config validation error tagged with the
// config path that produced it.
type ValidationError struct {
	Path    string // e.g. "resources[0].name"
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationResult collects all validation errors for a Config.
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error returns the combined error message.
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// AddError records a validation error.
func (r *ValidationResult) AddError(path, message string) {
	r.Errors = append(r.Errors, ValidationError{Path: path, Message: message})
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Validate checks a Config and returns every problem found.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if cfg.Port < 1 || cfg.Port > 65535 {
		result.AddError("port", fmt.Sprintf("must be in 1..65535, got %d", cfg.Port))
	}
	if cfg.ArtificialLatencyMs < 0 {
		result.AddError("artificialLatencyMs", "must not be negative")
	}
	if cfg.ChaosFailRate < 0 || cfg.ChaosFailRate > 1 {
		result.AddError("chaosFailRate", fmt.Sprintf("must be in [0,1], got %g", cfg.ChaosFailRate))
	}

	switch cfg.Features.SchemaValidation {
	case SchemaStrict, SchemaLenient:
	default:
		result.AddError("features.schemaValidation",
			fmt.Sprintf("must be %q or %q, got %q", SchemaStrict, SchemaLenient, cfg.Features.SchemaValidation))
	}

	rr := cfg.Features.RecordReplay
	if !rr.Mode.IsValid() {
		result.AddError("features.recordReplay.mode", fmt.Sprintf("unknown mode %q", rr.Mode))
	}
	if !rr.ReplayOnMiss.IsValid() {
		result.AddError("features.recordReplay.replayOnMiss", fmt.Sprintf("unknown policy %q", rr.ReplayOnMiss))
	}
	if (rr.Mode == "record" || rr.Mode == "replay") && rr.File == "" {
		result.AddError("features.recordReplay.file", "required when mode is record or replay")
	}

	if cfg.Chaos != nil {
		for i, rule := range cfg.Chaos.Rules {
			path := fmt.Sprintf("chaos.rules[%d]", i)
			if rule.PathPattern == "" {
				result.AddError(path+".pathPattern", "required")
			}
			if rule.FailRate != nil && (*rule.FailRate < 0 || *rule.FailRate > 1) {
				result.AddError(path+".failRate", "must be in [0,1]")
			}
			if rule.LatencyMinMs < 0 || rule.LatencyMaxMs < 0 {
				result.AddError(path, "latency bounds must not be negative")
			}
		}
	}

	names := make(map[string]bool)
	for i, res := range cfg.Resources {
		path := fmt.Sprintf("resources[%d]", i)
		if res.Name == "" {
			result.AddError(path+".name", "required")
			continue
		}
		if strings.ContainsAny(res.Name, "/ ") {
			result.AddError(path+".name", "must not contain slashes or spaces")
		}
		if names[res.Name] {
			result.AddError(path+".name", fmt.Sprintf("duplicate resource %q", res.Name))
		}
		names[res.Name] = true
	}

	for i, ep := range cfg.StaticEndpoints {
		path := fmt.Sprintf("staticEndpoints[%d]", i)
		if !validMethods[strings.ToUpper(ep.Method)] {
			result.AddError(path+".method", fmt.Sprintf("unknown method %q", ep.Method))
		}
		if !strings.HasPrefix(ep.Path, "/") {
			result.AddError(path+".path", "must start with /")
		}
		if ep.Status < 100 || ep.Status > 599 {
			result.AddError(path+".status", fmt.Sprintf("must be in 100..599, got %d", ep.Status))
		}
	}

	return result
}

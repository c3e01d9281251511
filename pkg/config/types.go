// Package config provides configuration types and loading for perturbd.
package config

import (
	"github.com/perturbd/perturbd/pkg/chaos"
	"github.com/perturbd/perturbd/pkg/replay"
)

// SchemaValidation severity values.
const (
	SchemaStrict  = "strict"
	SchemaLenient = "lenient"
)

// Config is the engine-consumed configuration object.
type Config struct {
	// Port is the HTTP listen port.
	Port int `json:"port" yaml:"port"`
	// AuthToken gates mutating routes when set. Empty means all
	// requests are authorized.
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"`
	// ArtificialLatencyMs is a blocking delay applied to every request.
	ArtificialLatencyMs int `json:"artificialLatencyMs,omitempty" yaml:"artificialLatencyMs,omitempty"`
	// ChaosFailRate is the process-wide failure injection rate in [0,1].
	ChaosFailRate float64 `json:"chaosFailRate,omitempty" yaml:"chaosFailRate,omitempty"`
	// Chaos holds per-route chaos rules (optional fuller form).
	Chaos *ChaosSection `json:"chaos,omitempty" yaml:"chaos,omitempty"`
	// Features toggles engine subsystems.
	Features Features `json:"features,omitempty" yaml:"features,omitempty"`
	// Logging configures the operational logger.
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
	// Resources are the CRUD collections served under /api/{name}.
	Resources []ResourceConfig `json:"resources,omitempty" yaml:"resources,omitempty"`
	// StaticEndpoints are fixed routes appended after all CRUD routes.
	StaticEndpoints []StaticEndpointConfig `json:"staticEndpoints,omitempty" yaml:"staticEndpoints,omitempty"`
}

// ChaosSection wraps the per-route chaos rules.
type ChaosSection struct {
	Rules []chaos.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Features toggles engine subsystems.
type Features struct {
	// Templating enables {{expr}} rendering in static responses.
	Templating bool `json:"templating,omitempty" yaml:"templating,omitempty"`
	// HotReload enables the config file watcher.
	HotReload bool `json:"hotReload,omitempty" yaml:"hotReload,omitempty"`
	// SchemaValidation is "strict" or "lenient".
	SchemaValidation string `json:"schemaValidation,omitempty" yaml:"schemaValidation,omitempty"`
	// RecordReplay configures traffic capture and playback.
	RecordReplay RecordReplay `json:"recordReplay,omitempty" yaml:"recordReplay,omitempty"`
}

// RecordReplay configures the record/replay subsystem.
type RecordReplay struct {
	// Mode is "off", "record" or "replay".
	Mode replay.Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	// File is the NDJSON log path.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
	// ReplayOnMiss is "fallback" or "error".
	ReplayOnMiss replay.MissPolicy `json:"replayOnMiss,omitempty" yaml:"replayOnMiss,omitempty"`
	// Match selects which request properties replay compares.
	Match replay.MatchCriteria `json:"match,omitempty" yaml:"match,omitempty"`
}

// LoggingConfig configures the operational logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ResourceConfig defines one CRUD collection.
type ResourceConfig struct {
	// Name is the unique resource name (e.g. "users").
	Name string `json:"name" yaml:"name"`
	// IDField is the field holding the record id (default "id").
	IDField string `json:"idField,omitempty" yaml:"idField,omitempty"`
	// EnableCrud generates the five CRUD routes under /api/{name}.
	EnableCrud bool `json:"enableCrud" yaml:"enableCrud"`
	// Seed is the initial data loaded on startup and reload.
	Seed []map[string]interface{} `json:"seed,omitempty" yaml:"seed,omitempty"`
	// Schema is an optional JSON Schema records must satisfy.
	Schema map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// StaticEndpointConfig defines one fixed endpoint.
type StaticEndpointConfig struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
	// Status is the response status code (default 200).
	Status int `json:"status,omitempty" yaml:"status,omitempty"`
	// Response is the body: a string, map or list. Strings inside it
	// are template-rendered when templating is enabled.
	Response interface{} `json:"response,omitempty" yaml:"response,omitempty"`
	// EchoRequest makes the endpoint respond with the request details
	// instead of Response.
	EchoRequest bool `json:"echoRequest,omitempty" yaml:"echoRequest,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Port: 4280,
		Features: Features{
			Templating:       true,
			SchemaValidation: SchemaLenient,
			RecordReplay: RecordReplay{
				Mode:         replay.ModeOff,
				ReplayOnMiss: replay.MissFallback,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 4280
	}
	if c.Features.SchemaValidation == "" {
		c.Features.SchemaValidation = SchemaLenient
	}
	if c.Features.RecordReplay.Mode == "" {
		c.Features.RecordReplay.Mode = replay.ModeOff
	}
	if c.Features.RecordReplay.ReplayOnMiss == "" {
		c.Features.RecordReplay.ReplayOnMiss = replay.MissFallback
	}
	if !c.Features.RecordReplay.Match.Method &&
		!c.Features.RecordReplay.Match.Path &&
		!c.Features.RecordReplay.Match.Query &&
		!c.Features.RecordReplay.Match.Body &&
		len(c.Features.RecordReplay.Match.Headers) == 0 {
		c.Features.RecordReplay.Match = replay.DefaultMatchCriteria()
	}
	for i := range c.Resources {
		if c.Resources[i].IDField == "" {
			c.Resources[i].IDField = "id"
		}
	}
	for i := range c.StaticEndpoints {
		if c.StaticEndpoints[i].Status == 0 {
			c.StaticEndpoints[i].Status = 200
		}
	}
}

// ChaosConfig assembles the chaos package configuration from the
// top-level knobs and the optional rules section.
func (c *Config) ChaosConfig() chaos.Config {
	cfg := chaos.Config{
		ArtificialLatencyMs: c.ArtificialLatencyMs,
		FailRate:            c.ChaosFailRate,
	}
	if c.Chaos != nil {
		cfg.Rules = c.Chaos.Rules
	}
	return cfg
}

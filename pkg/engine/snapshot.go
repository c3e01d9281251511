// Package engine orchestrates the perturbd request-handling pipeline:
// chaos injection, record/replay, routing, authorization and response
// writing, driven by one immutable configuration snapshot.
package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/perturbd/perturbd/pkg/chaos"
	"github.com/perturbd/perturbd/pkg/config"
	"github.com/perturbd/perturbd/pkg/replay"
	"github.com/perturbd/perturbd/pkg/resource"
	"github.com/perturbd/perturbd/pkg/routing"
)

// Snapshot is one immutable view of the engine state: the route table,
// the resource stores and the chaos/replay subsystems built from a
// single configuration. Hot reload builds a fresh Snapshot and
// publishes it with an atomic swap; a Snapshot is never mutated after
// construction. A request that captured a snapshot completes against
// it even if a reload lands mid-flight.
type Snapshot struct {
	cfg      *config.Config
	table    *routing.Table
	stores   map[string]*resource.Store
	injector *chaos.Injector
	replayer *replay.Replayer
	recorder *replay.Recorder

	authToken    string
	templating   bool
	strictSchema bool
	missPolicy   replay.MissPolicy
	log          *slog.Logger
}

// BuildSnapshot constructs a Snapshot from validated configuration.
// In record mode the NDJSON log is opened for appending; in replay
// mode it is loaded into memory.
func BuildSnapshot(cfg *config.Config, log *slog.Logger) (*Snapshot, error) {
	snap := &Snapshot{
		cfg:          cfg,
		stores:       make(map[string]*resource.Store),
		authToken:    cfg.AuthToken,
		templating:   cfg.Features.Templating,
		strictSchema: cfg.Features.SchemaValidation == config.SchemaStrict,
		missPolicy:   cfg.Features.RecordReplay.ReplayOnMiss,
		log:          log,
	}

	injector, err := chaos.New(cfg.ChaosConfig())
	if err != nil {
		return nil, err
	}
	snap.injector = injector

	for i := range cfg.Resources {
		res := &cfg.Resources[i]
		store, err := resource.NewStore(resource.Options{
			Name:    res.Name,
			IDField: res.IDField,
			Seed:    res.Seed,
			Schema:  res.Schema,
		})
		if err != nil {
			return nil, err
		}
		if len(res.Seed) > 0 {
			for _, rec := range store.List(len(res.Seed), 0) {
				if err := store.Validate(rec); err != nil {
					if snap.strictSchema {
						return nil, fmt.Errorf("seed data: %w", err)
					}
					log.Warn("seed record failed schema validation (lenient mode)", "resource", res.Name, "error", err)
				}
			}
		}
		snap.stores[res.Name] = store
	}

	table, err := snap.buildRoutes(cfg)
	if err != nil {
		return nil, err
	}
	snap.table = table

	switch cfg.Features.RecordReplay.Mode {
	case replay.ModeRecord:
		rec, err := replay.NewRecorder(cfg.Features.RecordReplay.File, log)
		if err != nil {
			return nil, fmt.Errorf("open record file: %w", err)
		}
		snap.recorder = rec
	case replay.ModeReplay:
		rp, err := replay.Load(cfg.Features.RecordReplay.File, cfg.Features.RecordReplay.Match)
		if err != nil {
			return nil, err
		}
		if rp.Skipped > 0 {
			log.Warn("skipped malformed replay lines", "file", cfg.Features.RecordReplay.File, "count", rp.Skipped)
		}
		snap.replayer = rp
	}

	return snap, nil
}

// buildRoutes assembles the route table: for every CRUD-enabled
// resource the five routes in the fixed order list, create, read,
// update, delete; then static endpoints in configuration order.
func (s *Snapshot) buildRoutes(cfg *config.Config) (*routing.Table, error) {
	var routes []*routing.Route

	add := func(method, pattern string, mutates bool, h routing.Handler) error {
		rt, err := routing.NewRoute(method, pattern, mutates, h)
		if err != nil {
			return err
		}
		routes = append(routes, rt)
		return nil
	}

	for i := range cfg.Resources {
		res := &cfg.Resources[i]
		if !res.EnableCrud {
			continue
		}
		store := s.stores[res.Name]
		base := "/api/" + strings.Trim(res.Name, "/")
		item := base + "/{id}"

		if err := add("GET", base, false, &listHandler{store: store}); err != nil {
			return nil, err
		}
		if err := add("POST", base, true, &createHandler{store: store, base: base, strict: s.strictSchema, log: s.log}); err != nil {
			return nil, err
		}
		if err := add("GET", item, false, &readHandler{store: store}); err != nil {
			return nil, err
		}
		if err := add("PUT", item, true, &updateHandler{store: store, strict: s.strictSchema, log: s.log}); err != nil {
			return nil, err
		}
		if err := add("DELETE", item, true, &deleteHandler{store: store}); err != nil {
			return nil, err
		}
	}

	for i := range cfg.StaticEndpoints {
		ep := &cfg.StaticEndpoints[i]
		var h routing.Handler
		if ep.EchoRequest {
			h = &echoHandler{status: ep.Status}
		} else {
			h = &staticHandler{status: ep.Status, response: ep.Response, templating: s.templating}
		}
		mutates := isMutating(ep.Method)
		if err := add(ep.Method, ep.Path, mutates, h); err != nil {
			return nil, err
		}
	}

	return routing.NewTable(routes), nil
}

// Close releases snapshot-owned resources (the record file handle).
func (s *Snapshot) Close() error {
	if s.recorder != nil {
		return s.recorder.Close()
	}
	return nil
}

// Table returns the route table.
func (s *Snapshot) Table() *routing.Table { return s.table }

// Store returns the resource store with the given name, or nil.
func (s *Snapshot) Store(name string) *resource.Store { return s.stores[name] }

// isMutating reports whether a method is subject to authorization.
func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "DELETE", "PATCH":
		return true
	default:
		return false
	}
}

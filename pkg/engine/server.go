package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/perturbd/perturbd/pkg/config"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP front end. It holds the active Snapshot behind an
// atomic pointer; every request loads the pointer once, so reloads
// swap the whole snapshot without a lock and without tearing the
// configuration a request observes.
type Server struct {
	log     *slog.Logger
	addr    string
	current atomic.Pointer[Snapshot]
	srv     *http.Server
}

// NewServer builds a Server with its initial snapshot.
func NewServer(cfg *config.Config, log *slog.Logger) (*Server, error) {
	snap, err := BuildSnapshot(cfg, log)
	if err != nil {
		return nil, err
	}
	s := &Server{
		log:  log,
		addr: fmt.Sprintf(":%d", cfg.Port),
	}
	s.current.Store(snap)
	return s, nil
}

// ServeHTTP dispatches against the snapshot active at arrival time.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.current.Load().dispatch(w, r)
}

// Snapshot returns the active snapshot.
func (s *Server) Snapshot() *Snapshot {
	return s.current.Load()
}

// Swap builds a snapshot from cfg and publishes it, closing the
// resources owned by the previous one. Requests in flight complete
// against the snapshot they captured; if that snapshot was recording,
// appends racing the close are dropped with a warning, which the
// best-effort recording contract allows. The listen address is fixed
// at startup; a changed port in cfg takes effect on the next restart.
func (s *Server) Swap(cfg *config.Config) error {
	snap, err := BuildSnapshot(cfg, s.log)
	if err != nil {
		return err
	}
	old := s.current.Swap(snap)
	if old != nil {
		if cerr := old.Close(); cerr != nil {
			s.log.Warn("failed to close previous snapshot", "error", cerr)
		}
	}
	s.log.Info("configuration reloaded",
		"routes", snap.table.Len(),
		"resources", len(snap.stores))
	return nil
}

// Start runs the HTTP listener until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		return err
	}
}

// Stop shuts the listener down gracefully and releases the active
// snapshot's resources.
func (s *Server) Stop() error {
	var err error
	if s.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.srv.Shutdown(shutdownCtx)
	}
	if snap := s.current.Load(); snap != nil {
		if cerr := snap.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

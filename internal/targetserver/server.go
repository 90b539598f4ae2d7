// Package targetserver is the load target the built-in scenarios are
// aimed at: a health check plus CPU- and memory-heavy endpoints.
package targetserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/vuramp/internal/logging"
)

const (
	defaultIterations = 10
	defaultMemoryMB   = 100

	// Upper bounds so a single request cannot take the process down.
	maxIterations = 1_000_000
	maxMemoryMB   = 4096

	innerLoop = 10_000
)

// Server serves the target endpoints.
type Server struct {
	logger logrus.FieldLogger

	mu       sync.Mutex
	retained []byte
}

// New creates a Server logging to logger (discarded when nil).
func New(logger logrus.FieldLogger) *Server {
	return &Server{logger: logging.OrDiscard(logger)}
}

// Handler returns the routes:
//
//	GET /                                   health check
//	GET /cpu_intensive?iterations=N         busy loop, default 10
//	GET /memory_intensive?memory_mb=N       allocate and retain N MiB, default 100
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.health)
	mux.HandleFunc("GET /cpu_intensive", s.cpuIntensive)
	mux.HandleFunc("GET /memory_intensive", s.memoryIntensive)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "Service is up!")
}

func (s *Server) cpuIntensive(w http.ResponseWriter, r *http.Request) {
	iterations, err := intParam(r, "iterations", defaultIterations, maxIterations)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log := s.logger.WithField("iterations", iterations)
	log.Info("Received CPU intensive request")
	burnCPU(iterations)
	log.Info("CPU intensive task completed")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "CPU Intensive Task Executed Successfully with %d iterations", iterations)
}

func (s *Server) memoryIntensive(w http.ResponseWriter, r *http.Request) {
	memoryMB, err := intParam(r, "memory_mb", defaultMemoryMB, maxMemoryMB)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log := s.logger.WithField("memory_mb", memoryMB)
	log.Info("Received memory intensive request")
	s.retain(memoryMB)
	log.Info("Memory intensive task completed")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Memory Intensive Task Executed Successfully with %d MB of memory consumption", memoryMB)
}

// retain allocates memoryMB MiB, touches every page and keeps the block
// until the next memory request replaces it.
func (s *Server) retain(memoryMB int) {
	data := make([]byte, memoryMB<<20)
	for i := 0; i < len(data); i += 4096 {
		data[i] = 1
	}
	s.mu.Lock()
	s.retained = data
	s.mu.Unlock()
}

// Retained reports how many bytes the last memory request holds.
func (s *Server) Retained() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retained)
}

var sink atomic.Int64

func burnCPU(iterations int) {
	for range iterations {
		result := 0
		for i := range innerLoop {
			result += i
		}
		sink.Store(int64(result))
	}
}

func intParam(r *http.Request, name string, def, limit int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	if n > limit {
		return 0, fmt.Errorf("%s must be at most %d", name, limit)
	}
	return n, nil
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.WithField("addr", ln.Addr().String()).Info("Target server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

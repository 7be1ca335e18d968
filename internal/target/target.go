// Package target is a small HTTP server that load tests can be pointed at.
// It serves a fake menu-items API with configurable latency and failures.
package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
)

// Config controls the behaviour of the target server.
type Config struct {
	// Addr to listen on, e.g. ":8083".
	Addr string

	// Latency added to every API response.
	Latency time.Duration

	// Jitter adds a random extra delay in [0, Jitter).
	Jitter time.Duration

	// ErrorRate is the fraction of API responses answered with 500.
	ErrorRate float64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Latency < 0 {
		return errors.New("latency cannot be negative")
	}
	if c.Jitter < 0 {
		return errors.New("jitter cannot be negative")
	}
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return fmt.Errorf("error rate must be between 0 and 1, got %g", c.ErrorRate)
	}
	return nil
}

// MenuItem is one entry returned by the menu-items endpoint.
type MenuItem struct {
	ID           int     `json:"id"`
	RestaurantID int     `json:"restaurantId"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
}

var menu = []MenuItem{
	{ID: 1, Name: "Pho bo", Price: 11.5},
	{ID: 2, Name: "Banh mi", Price: 7.25},
	{ID: 3, Name: "Goi cuon", Price: 6},
	{ID: 4, Name: "Ca phe sua da", Price: 4.5},
}

type server struct {
	cfg Config
	log *zap.Logger
}

// NewHandler returns the target's HTTP handler.
//
// Routes:
//
//	GET /health                                  always 200
//	GET /api/restaurants/{id}/menu-items         JSON menu, subject to latency and error rate
//	GET /status/{code}                           responds with code
func NewHandler(cfg Config, logger *zap.Logger) http.Handler {
	s := &server{cfg: cfg, log: logging.Component(logger, "target")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})
	mux.HandleFunc("GET /api/restaurants/{id}/menu-items", s.menuItems)
	mux.HandleFunc("GET /status/{code}", s.status)
	return mux
}

func (s *server) menuItems(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		http.Error(w, "invalid restaurant id", http.StatusBadRequest)
		return
	}

	if !s.delay(r.Context()) {
		return
	}

	if s.cfg.ErrorRate > 0 && rand.Float64() < s.cfg.ErrorRate {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	items := make([]MenuItem, len(menu))
	for i, m := range menu {
		m.RestaurantID = id
		items[i] = m
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(items); err != nil {
		s.log.Debug("failed to write response", zap.Error(err))
	}
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 200 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprint(w, http.StatusText(code))
}

// delay waits for the configured latency. It returns false when the
// client went away first.
func (s *server) delay(ctx context.Context) bool {
	d := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		d += rand.N(s.cfg.Jitter)
	}
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Serve listens on cfg.Addr and serves until ctx is cancelled. ready, when
// not nil, receives the bound address once the listener is open.
func Serve(ctx context.Context, cfg Config, logger *zap.Logger, ready func(net.Addr)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           NewHandler(cfg, logger),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5*time.Second + cfg.Latency + cfg.Jitter,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("target listening",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("latency", cfg.Latency),
		zap.Duration("jitter", cfg.Jitter),
		zap.Float64("errorRate", cfg.ErrorRate))
	if ready != nil {
		ready(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down target: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package modbus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mbtcp "github.com/simonvetter/modbus"

	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/config"
)

// Table identifies one of the four Modbus data tables.
type Table int

// Modbus data tables.
const (
	DiscreteInputs Table = iota
	Coils
	InputRegisters
	HoldingRegisters
)

// String returns a short table name for logs.
func (t Table) String() string {
	switch t {
	case DiscreteInputs:
		return "discrete_inputs"
	case Coils:
		return "coils"
	case InputRegisters:
		return "input_registers"
	case HoldingRegisters:
		return "holding_registers"
	default:
		return "table(" + strconv.Itoa(int(t)) + ")"
	}
}

// RegisterFile is the storage behind one (unit, table) pair.
// Addresses are 1-based. Bit tables store one bit per word (0 or 1).
type RegisterFile interface {
	ValidatePresence(address, count int) bool
	Read(address, count int) ([]uint16, error)
	Write(address int, values []uint16) error
}

// Store resolves the register file for a unit id and table.
type Store interface {
	RegisterFile(unitID uint8, table Table) (RegisterFile, bool)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stats is a snapshot of request counters.
type Stats struct {
	Reads          uint64 `json:"reads"`
	Writes         uint64 `json:"writes"`
	IllegalAddress uint64 `json:"illegal_address"`
	IllegalValue   uint64 `json:"illegal_value"`
	DeviceFailure  uint64 `json:"device_failure"`
}

// Server is a Modbus TCP server answering from a Store.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Request handlers run on the library's per-connection goroutines.
type Server struct {
	url string
	srv *mbtcp.ModbusServer

	running atomic.Bool
	mu      sync.Mutex

	handler *requestHandler
}

// NewServer creates a server for the configured listen address.
// Call Start to open the listener.
func NewServer(cfg config.ModbusConfig, store Store) (*Server, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	h := &requestHandler{store: store}
	url := listenURL(cfg.Host, cfg.Port)

	srv, err := mbtcp.NewServer(&mbtcp.ServerConfiguration{
		URL:        url,
		Timeout:    time.Duration(cfg.Timeout) * time.Second,
		MaxClients: uint(cfg.MaxClients), //nolint:gosec // validated >= 1 by config
	}, h)
	if err != nil {
		return nil, fmt.Errorf("creating modbus server: %w", err)
	}

	return &Server{url: url, srv: srv, handler: h}, nil
}

// listenURL builds the library's tcp:// URL from host and port.
func listenURL(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Start opens the listener. Requests are served until Close.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	if err := s.srv.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStartFailed, s.url, err)
	}
	s.running.Store(true)

	logInfo(s.handler.getLogger(), "modbus server listening", "url", s.url)
	return nil
}

// Close stops the listener and drops client connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if err := s.srv.Stop(); err != nil {
		return fmt.Errorf("stopping modbus server: %w", err)
	}
	logInfo(s.handler.getLogger(), "modbus server stopped")
	return nil
}

// HealthCheck reports whether the listener is open.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("modbus health check: %w", ctx.Err())
	default:
	}

	if !s.running.Load() {
		return ErrNotRunning
	}
	return nil
}

// IsRunning reports whether the listener is open.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// URL returns the listen URL.
func (s *Server) URL() string {
	return s.url
}

// Stats returns the request counters.
func (s *Server) Stats() Stats {
	return s.handler.stats()
}

// SetLogger sets the logger for server events and request failures.
func (s *Server) SetLogger(logger Logger) {
	s.handler.setLogger(logger)
}

func logInfo(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func logDebug(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func logWarn(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

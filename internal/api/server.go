// Package api provides the read-only HTTP status API for the gateway.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-mbgate/internal/bridges/mbgate"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/modbus"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every component reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ChannelSource provides the register cache snapshot.
type ChannelSource interface {
	Snapshot() []mbgate.ChannelSnapshot
}

// BridgeMetricsProvider provides broker-side counters.
type BridgeMetricsProvider interface {
	GetMetrics() mbgate.BridgeMetrics
}

// PumpStatsProvider provides publish queue counters.
type PumpStatsProvider interface {
	Stats() mbgate.PumpStats
}

// ModbusStatsProvider provides Modbus request counters.
type ModbusStatsProvider interface {
	Stats() modbus.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Channels ChannelSource

	// MQTT and Modbus are reported on /health. Either may be nil.
	MQTT   HealthChecker
	Modbus HealthChecker

	Bridge      BridgeMetricsProvider
	Pump        PumpStatsProvider
	ModbusStats ModbusStatsProvider

	Version string
}

// Server is the HTTP status API.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	channels    ChannelSource
	mqtt        HealthChecker
	modbus      HealthChecker
	bridge      BridgeMetricsProvider
	pump        PumpStatsProvider
	modbusStats ModbusStatsProvider
	version     string
	startTime   time.Time
	server      *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, channel source)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Channels == nil {
		return nil, fmt.Errorf("channel source is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		channels:    deps.Channels,
		mqtt:        deps.MQTT,
		modbus:      deps.Modbus,
		bridge:      deps.Bridge,
		pump:        deps.Pump,
		modbusStats: deps.ModbusStats,
		version:     deps.Version,
		startTime:   time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

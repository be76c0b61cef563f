package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-mbgate/internal/bridges/mbgate"
	"github.com/nerrad567/gray-logic-mbgate/internal/infrastructure/modbus"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                `json:"timestamp"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Runtime       RuntimeMetrics        `json:"runtime"`
	Bridge        *mbgate.BridgeMetrics `json:"bridge,omitempty"`
	Publish       *mbgate.PumpStats     `json:"publish,omitempty"`
	Modbus        *modbus.Stats         `json:"modbus,omitempty"`
	Channels      int                   `json:"channels"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleMetrics returns runtime and gateway counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Channels: len(s.channels.Snapshot()),
	}

	if s.bridge != nil {
		m := s.bridge.GetMetrics()
		metrics.Bridge = &m
	}
	if s.pump != nil {
		p := s.pump.Stats()
		metrics.Publish = &p
	}
	if s.modbusStats != nil {
		st := s.modbusStats.Stats()
		metrics.Modbus = &st
	}

	writeJSON(w, http.StatusOK, metrics)
}

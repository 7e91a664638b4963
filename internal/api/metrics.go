package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/otgw-core/internal/engine"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	Link          *LinkMetrics   `json:"link,omitempty"`
	Engine        engine.Stats   `json:"engine"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// LinkMetrics contains serial link statistics.
type LinkMetrics struct {
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
	LinesRx    uint64 `json:"lines_rx"`
	LinesTx    uint64 `json:"lines_tx"`
}

// handleStats returns runtime, link and engine statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
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
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Engine: s.engine.Stats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.link != nil {
		reconnects, rx, tx := s.link.Stats()
		metrics.Link = &LinkMetrics{
			Connected:  s.link.Connected(),
			Reconnects: reconnects,
			LinesRx:    rx,
			LinesTx:    tx,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

// gatewayResponse is the body of GET /gateway.
type gatewayResponse struct {
	Dialect string            `json:"dialect"`
	Info    map[string]string `json:"info"`
}

// handleGateway returns the wire dialect and the collected PR reports.
func (s *Server) handleGateway(w http.ResponseWriter, _ *http.Request) {
	info := s.engine.GatewayInfo()
	if info == nil {
		info = map[string]string{}
	}
	writeJSON(w, http.StatusOK, gatewayResponse{
		Dialect: string(s.engine.Dialect()),
		Info:    info,
	})
}

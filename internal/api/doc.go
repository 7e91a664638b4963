// Package api implements the HTTP diagnostics API and WebSocket change feed
// for the OpenTherm gateway core.
//
// This package provides:
//   - REST endpoints for catalog items, raw data ids, setpoint arbitration,
//     heating circuits, gateway reports and raw gateway commands
//   - WebSocket hub broadcasting registry changes and circuit transitions
//   - Prometheus exposition at /metrics
//   - Optional JWT bearer authentication for mutating routes
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API talks to the engine directly through the small Engine interface.
// Reads come from the engine's registry snapshot, writes are queued on the
// transaction sequencer and may be awaited with ?wait=true. The WebSocket
// hub holds one engine subscription and fans its events out to clients
// that subscribed to the matching channel.
//
// # Security
//
// When security.jwt.secret is set, every mutating route requires an HS256
// bearer token signed with that secret (and issued by security.jwt.issuer
// when configured). Read routes, the WebSocket feed and /metrics stay open
// for monitoring.
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/items
//	GET    /api/v1/items/{name}
//	POST   /api/v1/items/{name}                    {"value": 45}
//	GET    /api/v1/data
//	GET    /api/v1/setpoints
//	GET    /api/v1/setpoints/{target}
//	PUT    /api/v1/setpoints/{target}/{source}     {"value": 38.5}
//	POST   /api/v1/setpoints/{target}/{source}/invalidate
//	DELETE /api/v1/setpoints/{target}/{source}
//	GET    /api/v1/circuits
//	GET    /api/v1/circuits/{name}
//	PATCH  /api/v1/circuits/{name}                 {"mode": "heat", "target_temperature": 21}
//	GET    /api/v1/gateway
//	POST   /api/v1/commands                        {"command": "HW=P"}
//	GET    /api/v1/stats
//	GET    /api/v1/ws
//	GET    /metrics
package api

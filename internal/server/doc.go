// Package server exposes the control surface over HTTP.
//
// The API is served by echo. Device commands answer with the freshest
// status the coordinator could read, plus the error and a troubleshooting
// hint when the command failed:
//
//	GET  /healthcheck
//	GET  /api/devices
//	GET  /api/devices/:id
//	GET  /api/devices/:id/status
//	POST /api/devices/:id/profile          {"profile": "max_power"}
//	POST /api/devices/:id/boards/:board    {"enabled": false}
//	POST /api/devices/:id/frequency        {"mhz": 600}
//	POST /api/devices/:id/solar            {"mode": "manual", "watts": 1800}
//	POST /api/devices/:id/preset           {"preset": "night_30"}
//	POST /api/devices/:id/auto-power       {"enabled": true}
//	POST /api/devices/:id/temp-protection  {"enabled": true}
//	POST /api/devices/:id/pause|resume|reboot
//	POST /api/emergency-stop
//	GET  /api/cycles/last
//	GET  /ws
//
// Unknown devices are 404, invalid arguments 400, device timeouts 504 and
// other device failures 502.
//
// # Websocket Stream
//
// /ws pushes every control cycle result as a JSON text message. Clients
// that fall behind are disconnected rather than slowing the coordinator.
package server

// Package server assembles the HTTP API.
//
// The API listener serves /health, the rate-limited /auth routes and every
// authenticated module route behind one middleware chain: request ID,
// context logger, timing, panic recovery, CORS and a body size limit, with
// otelhttp tracing when enabled. A second listener on WARDEN_HEALTH_PORT
// serves the probes and /metrics.
//
// Bootstrap must run before Run on a fresh database.
package server

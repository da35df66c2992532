package constants

// Пути health, ready, metrics и публичного API.
const (
	PathHealth   = "/health"
	PathReady    = "/ready"
	PathMetrics  = "/metrics"
	PathDiscord  = "/api/discord"
	PathSessions = "/sessions"
	PathEventsWS = "/ws/sessions"
)

// ServiceName is reported by health endpoints and the gRPC health service.
const (
	ServiceName       = "voice-supervisor"
	GRPCHealthService = "voice.Supervisor"
)

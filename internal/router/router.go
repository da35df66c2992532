package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/psds-microservice/voice-supervisor/internal/handler"
	"github.com/psds-microservice/voice-supervisor/pkg/constants"
)

// New builds the HTTP router.
func New(
	discord *handler.DiscordHandler,
	sessionHandler *handler.SessionHandler,
	eventsWS *handler.EventsWSHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)
	r.GET(constants.PathMetrics, gin.WrapH(promhttp.Handler()))

	// Batch supervision: GET and POST are equivalent
	r.GET(constants.PathDiscord, discord.Connect)
	r.POST(constants.PathDiscord, discord.Connect)
	r.DELETE(constants.PathDiscord, discord.Disconnect)

	// REST sessions
	sessions := r.Group(constants.PathSessions)
	{
		sessions.GET("", sessionHandler.ListSessions)
		sessions.GET("/:id", sessionHandler.GetSession)
		sessions.DELETE("/:id", sessionHandler.DeleteSession)
		sessions.GET("/:id/events", sessionHandler.GetSessionEvents)
	}

	// WebSocket: /ws/sessions?session_id=
	r.GET(constants.PathEventsWS, eventsWS.ServeWS)

	return r
}

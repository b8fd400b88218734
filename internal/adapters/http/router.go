package http

import (
	"context"

	"github.com/dkeye/voiceindicator/internal/adapters/signal"
	"github.com/dkeye/voiceindicator/internal/app/conference"
	"github.com/dkeye/voiceindicator/internal/config"
	"github.com/dkeye/voiceindicator/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Conferences *conference.Manager
	Signal      *signal.SignalWSController
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceIndicatorSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", handleHealth)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{conferences: deps.Conferences, metrics: deps.Metrics}
	api := r.Group("/api")
	api.GET("/conferences", h.listConferences)
	api.DELETE("/conferences/:id", h.stopConference)
	api.GET("/conferences/:id/attendees", h.listAttendees)
	api.DELETE("/conferences/:id/attendees/:attendee", h.removeAttendee)
	api.GET("/conferences/:id/streams", h.listStreams)
	api.POST("/conferences/:id/frames/stream-info", h.postStreamInfo)
	api.POST("/conferences/:id/frames/metadata", h.postMetadata)

	if deps.Signal != nil {
		api.GET("/ws/signal", func(c *gin.Context) {
			log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
			deps.Signal.HandleSignal(ctx, c)
		})
	}

	return r
}

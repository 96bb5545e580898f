// Package http is the room server's gin front: the join/message/leave endpoints, the websocket upgrade, and ops endpoints.
package http

import (
	"context"
	"net/http"

	"github.com/ArduinoAndWebRTC/webrtc/internal/adapters/signal"
	"github.com/ArduinoAndWebRTC/webrtc/internal/app"
	"github.com/ArduinoAndWebRTC/webrtc/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, hub *app.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctl := signal.NewSignalWSController(hub, cfg.Server.ReadLimit, cfg.Server.PingPeriod)
	h := &handlers{
		hub:        hub,
		publicURL:  cfg.Server.PublicURL,
		iceServers: cfg.Ice.Servers,
		limiter:    signal.NewJoinLimiter(cfg.Server.JoinRateLimit, cfg.Server.JoinRateInterval),
	}

	r.POST("/join/:room", h.join)
	r.POST("/message/:room/:client", h.message)
	r.POST("/leave/:room/:client", h.leave)

	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})
	r.DELETE("/ws/:room/:client", ctl.HandleDelete)

	r.GET("/rooms", h.rooms)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("public_url", cfg.Server.PublicURL).Msg("router setup")
	return r
}

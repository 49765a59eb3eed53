package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/telegramgrupp/project/internal/adapters/signal"
	"github.com/telegramgrupp/project/internal/config"
	"github.com/telegramgrupp/project/internal/domain"
)

// ClientTokenMiddleware assigns each browser a stable participant token
// via cookie. The websocket controller uses it as the participant id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = string(domain.NewParticipant().ID)
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("PairSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"waiting":   ctl.Broker.QueueLen(),
			"connected": ctl.Registry.Count(),
		})
	})

	api.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"stunServers": cfg.STUNServers,
		})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().
			Str("module", "adapters.http").
			Str("id", c.GetString("client_token")).
			Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}

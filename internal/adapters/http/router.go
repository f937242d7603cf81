// Package http wires the REST surface and the WebSocket endpoint.
package http

import (
	"context"

	ginsessions "github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edlive/livehub/internal/adapters/signal"
	"github.com/edlive/livehub/internal/config"
	"github.com/edlive/livehub/internal/hub"
	"github.com/edlive/livehub/internal/store"
)

const userKey = "user_id"

// IdentityMiddleware resolves the caller. Authentication proper is an
// upstream concern: a trusted proxy passes X-User-ID; without it, a
// cookie-session identity is minted so anonymous clients stay stable across
// requests.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader("X-User-ID")
		if uid == "" {
			s := ginsessions.Default(c)
			uid, _ = s.Get("uid").(string)
			if uid == "" {
				uid = uuid.NewString()
				s.Set("uid", uid)
				_ = s.Save()
			}
		}
		c.Set(userKey, uid)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *hub.Hub, st store.SessionStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(ginsessions.Sessions("livehub", cookieStore))
	r.Use(IdentityMiddleware())

	if cfg.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	sc := NewSessionController(cfg, h, st)
	ws := signal.NewController(h, cfg)

	api := r.Group("/api")
	api.GET("/ws/live-sessions", func(c *gin.Context) {
		ws.HandleWS(ctx, c)
	})

	RegisterSessionRoutes(api, sc)
	return r
}

func RegisterSessionRoutes(g *gin.RouterGroup, sc *SessionController) {
	g.POST("/sessions", sc.Create)
	g.GET("/sessions", sc.List)
	g.GET("/sessions/devices", sc.ListDevices)
	g.POST("/sessions/:id/join", sc.Join)
	g.POST("/sessions/:id/leave", sc.Leave)
	g.PATCH("/sessions/:id/status", sc.UpdateStatus)
	g.GET("/sessions/:id/stats", sc.Stats)
}

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoocall/internal/api/handlers"
	"github.com/yoockh/yoocall/internal/api/middleware"
	"github.com/yoockh/yoocall/internal/auth"
)

type Deps struct {
	Verifier *auth.Verifier
	Metrics  http.Handler

	Call *handlers.CallHandler
	Room *handlers.RoomHandler
	WS   *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Protected routes (JWT)
	authed := r.Group("/")
	authed.Use(middleware.JWTAuth(d.Verifier))

	authed.POST("/calls", d.Call.Initiate)
	authed.GET("/calls/:call_id", d.Call.Get)
	authed.POST("/calls/:call_id/accept", d.Call.Accept)
	authed.POST("/calls/:call_id/reject", d.Call.Reject)
	authed.POST("/calls/:call_id/end", d.Call.End)
	authed.POST("/calls/:call_id/cancel", d.Call.Cancel)
	authed.POST("/calls/:call_id/ice-candidates", d.Call.AddICECandidate)
	authed.PUT("/calls/:call_id/quality", d.Call.UpdateQuality)
	authed.GET("/calls/:call_id/transcript", d.Call.Transcript)

	authed.GET("/rooms/:room_id/members", middleware.RequireAdmin(), d.Room.Members)

	// WebSocket gateway; token may come as ?token= since browsers cannot set headers
	authed.GET("/ws", d.WS.Connect)
}

package router

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"

	"SquadCheck/internal/handler"
	"SquadCheck/internal/middleware"
)

// Register 注册路由。extra 为额外的全局中间件（如链路追踪）
func Register(h *server.Hertz, challenges *handler.ChallengeHandler, extra ...app.HandlerFunc) {
	h.Use(middleware.RecoverMiddleware())
	h.Use(extra...)

	h.GET("/healthz", handler.Health)

	v1 := h.Group("/v1")

	// 挑战状态查询
	ch := v1.Group("/challenges/:challenge_id")
	{
		ch.GET("/status", challenges.GetStatus)
		ch.GET("/period", challenges.GetCurrentPeriod)
	}
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/deceptly/honeypot/internal/common"
	"github.com/deceptly/honeypot/internal/config"
	"github.com/deceptly/honeypot/internal/honeypot"
	"github.com/deceptly/honeypot/internal/httpapi/handlers"
	"github.com/deceptly/honeypot/internal/httpapi/middleware"
	"github.com/deceptly/honeypot/internal/store/rabbitmq"
)

func NewRouter(db *gorm.DB, cfg config.Config, locker honeypot.SessionLocker, pub *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, locker, pub)

	r.GET("/ping", h.Ping)

	r.POST("/honeypot/message", h.SubmitMessage)
	r.GET("/honeypot/sessions", h.ListSessions)
	r.GET("/honeypot/session/:session_id", h.GetSession)
	r.DELETE("/honeypot/session/:session_id", h.DeleteSession)

	// async turn path
	r.POST("/honeypot/message/async", h.SubmitMessageAsync)
	r.GET("/honeypot/jobs/:job_id", h.GetTurnJob)

	return r
}

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coviewhq/coview/internal/collab"
	"github.com/coviewhq/coview/internal/middleware"
	"github.com/coviewhq/coview/internal/realtime"
	apperrors "github.com/coviewhq/coview/pkg/errors"
	"github.com/coviewhq/coview/pkg/response"
)

// NewRouter builds the Gin engine hosting the websocket endpoint, the
// read-only session API, and the operational endpoints.
func NewRouter(hub *realtime.Hub, store *collab.Store) (*gin.Engine, error) {
	if hub == nil {
		return nil, fmt.Errorf("realtime hub must be provided")
	}
	if store == nil {
		return nil, fmt.Errorf("session store must be provided")
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.GET("/ws", func(c *gin.Context) {
		hub.Serve(c.Writer, c.Request)
	})

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/sessions", func(c *gin.Context) {
			response.Success(c, http.StatusOK, gin.H{"sessions": store.List()})
		})
		api.GET("/sessions/:id", func(c *gin.Context) {
			snapshot, ok := store.Snapshot(c.Param("id"))
			if !ok {
				response.Error(c, apperrors.ErrNotFound)
				return
			}
			response.Success(c, http.StatusOK, snapshot)
		})
	}

	return r, nil
}

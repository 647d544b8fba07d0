package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/guardianbridge/guardianbridge/config"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
	"github.com/guardianbridge/guardianbridge/proxy"
	"github.com/yaoapp/kun/log"
)

// Server the proxy HTTP front
type Server struct {
	http *http.Server
}

// New builds the server on the configured host and port
func New() *Server {
	return &Server{
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", config.Conf.Host, config.Conf.Port),
			Handler: Router(),
		},
	}
}

// Router builds the gin engine. Every path goes through the proxy
// pipeline except the health probe.
func Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(proxy.Handle)
	return router
}

// requestID tags every response so client reports can be matched with
// the proxy log
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id, _ = gonanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 12)
		}
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// Start serves until the listener fails or Stop is called
func (server *Server) Start() error {
	log.Info("listening on %s", server.http.Addr)
	err := server.http.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests then closes the sample stores. Store
// close comes last, a draining request may still be writing samples.
func (server *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.http.Shutdown(ctx); err != nil {
		log.Warn("shutdown: %s", err.Error())
	}
	storage.CloseAll()
	log.Info("server stopped")
}

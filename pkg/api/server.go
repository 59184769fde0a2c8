// Package api provides a read-only HTTP status API over the running chat
// server: liveness, session and call counts, and the group directory.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sechat/sechat-node/pkg/network"
	"github.com/sechat/sechat-node/pkg/storage"
)

// Server is the HTTP status server.
type Server struct {
	chat       *network.Server
	store      *storage.Store
	router     *gin.Engine
	addr       string
	httpServer *http.Server
}

// NewServer builds the status API over a running chat server.
func NewServer(chat *network.Server, store *storage.Store, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		chat:   chat,
		store:  store,
		router: router,
		addr:   addr,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/sessions", s.handleSessions)
		v1.GET("/groups", s.handleGroups)
	}

	s.router.GET("/health", s.handleHealth)
}

// Start launches the HTTP server in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Status API server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

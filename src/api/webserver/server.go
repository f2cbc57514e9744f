package webserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/mememo/src/config"
)

// Server runs the HTTP API as an agent module.
type Server struct {
	listen     string
	handler    http.Handler
	httpServer *http.Server
	done       chan struct{}
}

func NewServer(api config.APIConfig, auth3pSecret string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		listen:  api.Listen,
		handler: NewRouter(api, auth3pSecret, deps),
	}
}

func (s *Server) Name() string { return "api" }

// Start binds the listener and serves in the background.
func (s *Server) Start(context.Context) error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("webserver: listen %s: %w", s.listen, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	log.Printf("webserver: listening on %s", listener.Addr())
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("webserver: serve: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("webserver: shutdown: %v", err)
	}
	<-s.done
}

// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the session manager over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
)

// Config configures the HTTP listener.
type Config struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"-"`
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Port)
	}

	if c.AuthToken == "" {
		return errors.New("an auth token is required")
	}

	return nil
}

// Server serves the gateway API.
type Server struct {
	svc    Service
	cfg    Config
	logger *zap.SugaredLogger
	router *gin.Engine
	http   *http.Server
}

func NewServer(svc Service, cfg Config) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.For(logger.ComponentAPI),
	}
	s.router = s.routes()

	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(observe())

	router.GET("/health", s.health)

	authed := router.Group("/", bearerAuth(s.cfg.AuthToken), validTenant())
	{
		authed.GET("/status/:tenant", s.status)
		authed.GET("/status/:tenant/check", s.check)
		authed.POST("/send-message/:tenant", s.sendMessage)
		authed.GET("/companies", s.companies)
		authed.GET("/debug/:tenant", s.debug)
		authed.DELETE("/clear/:tenant", s.clear)
	}

	return router
}

// Handler returns the compressed router.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// Start listens in the background. Listener failures are reported to sentry.
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Infof("Listening on %s", s.http.Addr)

		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, s.logger)
		}
	}()
}

// Shutdown stops accepting requests and waits for running ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}

	return s.http.Shutdown(ctx)
}

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

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
	"github.com/united-manufacturing-hub/chatgate/pkg/session"
)

// Service is what the HTTP layer needs from the session manager.
type Service interface {
	GetStatus(ctx context.Context, tenant string) (session.Status, error)
	CheckConnectionStatus(ctx context.Context, tenant string) session.Status
	SendMessage(ctx context.Context, tenant, number, body string) (session.SendResult, error)
	ListSessions() session.Summary
	Debug(ctx context.Context, tenant string) (session.DebugInfo, error)
	ClearSession(ctx context.Context, tenant string) (session.ClearResult, error)
}

type statusResponse struct {
	session.Status
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

type sendRequest struct {
	Number  string `json:"number" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type sendResponse struct {
	session.SendResult
	Tenant          string `json:"tenant"`
	OriginalNumber  string `json:"originalNumber"`
	FormattedNumber string `json:"formattedNumber"`
}

type companiesResponse struct {
	session.Summary
	Total      int `json:"total"`
	Connected  int `json:"connected"`
	Connecting int `json:"connecting"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.svc.ListSessions().Totals.Total,
	})
}

func (s *Server) status(c *gin.Context) {
	tenant := c.Param("tenant")

	st, err := s.svc.GetStatus(c.Request.Context(), tenant)

	switch {
	case err == nil:
		c.JSON(http.StatusOK, statusResponse{Status: st, Tenant: tenant, Timestamp: time.Now().UTC()})
	case errors.Is(err, session.ErrNotReadyYet), errors.Is(err, session.ErrSessionDestroying), errors.Is(err, session.ErrSessionBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     err.Error(),
			"status":    http.StatusServiceUnavailable,
			"tenant":    tenant,
			"retryable": true,
		})
	default:
		s.internalError(c, tenant, err)
	}
}

func (s *Server) check(c *gin.Context) {
	tenant := c.Param("tenant")
	st := s.svc.CheckConnectionStatus(c.Request.Context(), tenant)

	c.JSON(http.StatusOK, statusResponse{Status: st, Tenant: tenant, Timestamp: time.Now().UTC()})
}

func (s *Server) sendMessage(c *gin.Context) {
	tenant := c.Param("tenant")

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "the fields 'number' and 'message' are required",
			"status":  http.StatusBadRequest,
			"example": gin.H{"number": "5511999999999", "message": "Your message"},
		})

		return
	}

	formatted, err := NormalizeNumber(req.Number)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "status": http.StatusBadRequest})

		return
	}

	res, err := s.svc.SendMessage(c.Request.Context(), tenant, formatted, req.Message)
	if err == nil {
		c.JSON(http.StatusOK, sendResponse{
			SendResult:      res,
			Tenant:          tenant,
			OriginalNumber:  req.Number,
			FormattedNumber: formatted,
		})

		return
	}

	var sendErr *session.SendError
	if !errors.As(err, &sendErr) {
		s.internalError(c, tenant, err)

		return
	}

	code := sendStatusCode(sendErr.Kind)
	body := gin.H{
		"error":  err.Error(),
		"kind":   sendErr.Kind,
		"status": code,
		"tenant": tenant,
	}

	if sendErr.Kind == session.SendNotReady {
		body["suggestion"] = "connect the tenant first through /status/" + tenant
	}

	c.JSON(code, body)
}

func sendStatusCode(kind session.SendErrorKind) int {
	switch kind {
	case session.SendNotReady:
		return http.StatusUnprocessableEntity
	case session.SendInvalidDestination:
		return http.StatusNotFound
	case session.SendConnectionLost:
		return http.StatusServiceUnavailable
	case session.SendTimeout:
		return http.StatusGatewayTimeout
	case session.SendKnownDefect:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) companies(c *gin.Context) {
	sum := s.svc.ListSessions()

	c.JSON(http.StatusOK, companiesResponse{
		Summary:    sum,
		Total:      sum.Totals.Total,
		Connected:  sum.Totals.Ready,
		Connecting: sum.Totals.Reconnecting + countConnecting(sum),
	})
}

func countConnecting(sum session.Summary) int {
	n := 0

	for _, s := range sum.Sessions {
		if s.State == session.StateConnecting {
			n++
		}
	}

	return n
}

func (s *Server) debug(c *gin.Context) {
	tenant := c.Param("tenant")

	info, err := s.svc.Debug(c.Request.Context(), tenant)

	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"tenant": tenant, "debug": info, "timestamp": time.Now().UTC()})
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "status": http.StatusNotFound, "tenant": tenant})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "session is busy",
			"status":    http.StatusServiceUnavailable,
			"tenant":    tenant,
			"retryable": true,
		})
	default:
		s.internalError(c, tenant, err)
	}
}

func (s *Server) clear(c *gin.Context) {
	tenant := c.Param("tenant")

	res, err := s.svc.ClearSession(c.Request.Context(), tenant)
	if err != nil {
		s.internalError(c, tenant, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "session " + tenant + " cleared", "result": res})
}

func (s *Server) internalError(c *gin.Context, tenant string, err error) {
	metrics.IncErrorCount(metrics.ComponentAPI, c.FullPath())
	sentry.ReportSessionError(s.logger, tenant, "", c.FullPath(), err)

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":      err.Error(),
		"status":     http.StatusInternalServerError,
		"tenant":     tenant,
		"suggestion": "try again in a few seconds",
	})
}

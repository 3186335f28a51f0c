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
	"crypto/subtle"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
)

// tenantPattern keeps tenant ids safe to use in file names.
var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// bearerAuth rejects requests without the configured token: 401 when the
// header is missing, 403 when the token does not match.
func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")

		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || got == "" {
			abort(c, http.StatusUnauthorized, "missing token", "Send the header Authorization: Bearer <token>.")

			return
		}

		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			abort(c, http.StatusForbidden, "invalid token", "The token is not valid.")

			return
		}

		c.Next()
	}
}

func validTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tenant := c.Param("tenant"); tenant != "" && !tenantPattern.MatchString(tenant) {
			abort(c, http.StatusBadRequest, "invalid tenant", "Tenant ids use letters, digits, '-' and '_' only.")

			return
		}

		c.Next()
	}
}

func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.ObserveHTTPRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func abort(c *gin.Context, status int, err, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   err,
		"status":  status,
		"message": message,
	})
}

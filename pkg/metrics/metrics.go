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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
)

const (
	// Component labels.
	ComponentSessionManager = "session_manager"
	ComponentSessionMonitor = "session_monitor"
	ComponentReconnect      = "reconnect"
	ComponentBridge         = "bridge"
	ComponentAssistant      = "assistant"
	ComponentAPI            = "api"
	ComponentFilesystem     = "filesystem"
)

var (
	namespace = "chatgate"
	subsystem = "gateway"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	sessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state",
			Help:      "Current connection state of a tenant session (0=uninitialized, 1=connecting, 2=qr_pending, 3=authenticated_syncing, 4=ready, 5=disconnected, 6=reconnecting, 7=destroying, -1=removed)",
		},
		[]string{"tenant"},
	)

	reconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by outcome (scheduled, started, succeeded, failed, exhausted, permanent)",
		},
		[]string{"tenant", "outcome"},
	)

	destroyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_destroy_total",
			Help:      "Destroyed sessions by teardown path (graceful, force, tag, none)",
		},
		[]string{"path"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probe_duration_seconds",
			Help:      "Duration of client probes by kind and result",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"probe", "result"},
	)

	forcedReady = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forced_ready_total",
			Help:      "Sessions promoted to ready by an inference rule instead of the client event",
		},
		[]string{"rule"},
	)

	sweepResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "zombie_sweep_sessions_total",
			Help:      "Sessions handled by the zombie monitor by result (checked, skipped, destroyed, demoted)",
		},
		[]string{"result"},
	)

	sweepDuration = promauto.NewSummary(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "zombie_sweep_duration_milliseconds",
			Help:      "Time taken by one zombie monitor sweep (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
	)

	sendResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Outgoing messages by result (ok or the classified error kind)",
		},
		[]string{"result"},
	)

	assistantReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "assistant_replies_total",
			Help:      "Incoming messages handled by the assistant by outcome (replied, ignored, duplicate, not_customer, failed)",
		},
		[]string{"outcome"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests by route and status code",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)
)

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// UpdateSessionState sets the state gauge of a tenant.
func UpdateSessionState(tenant, state string) {
	sessionState.WithLabelValues(tenant).Set(getStateValue(state))
}

// RemoveSession drops the state gauge of a tenant whose session was destroyed.
func RemoveSession(tenant string) {
	sessionState.DeleteLabelValues(tenant)
}

func getStateValue(state string) float64 {
	switch state {
	case "uninitialized":
		return 0
	case "connecting":
		return 1
	case "qr_pending":
		return 2
	case "authenticated_syncing":
		return 3
	case "ready":
		return 4
	case "disconnected":
		return 5
	case "reconnecting":
		return 6
	case "destroying":
		return 7
	default:
		return -1
	}
}

// RecordReconnect records a reconnect engine outcome for a tenant.
func RecordReconnect(tenant, outcome string) {
	reconnectAttempts.WithLabelValues(tenant, outcome).Inc()
}

// RecordDestroy records which teardown path released a session's client.
func RecordDestroy(path string) {
	destroyTotal.WithLabelValues(path).Inc()
}

// ObserveProbe records the duration of a client probe.
func ObserveProbe(probe string, ok bool, duration time.Duration) {
	result := "ok"
	if !ok {
		result = "failed"
	}

	probeDuration.WithLabelValues(probe, result).Observe(duration.Seconds())
}

// RecordForcedReady records a promotion by the named inference rule.
func RecordForcedReady(rule string) {
	forcedReady.WithLabelValues(rule).Inc()
}

// RecordSweep records the outcome of one zombie monitor sweep.
func RecordSweep(checked, skipped, destroyed, demoted int, duration time.Duration) {
	sweepResults.WithLabelValues("checked").Add(float64(checked))
	sweepResults.WithLabelValues("skipped").Add(float64(skipped))
	sweepResults.WithLabelValues("destroyed").Add(float64(destroyed))
	sweepResults.WithLabelValues("demoted").Add(float64(demoted))
	sweepDuration.Observe(float64(duration.Milliseconds()))
}

// RecordSend records the result of an outgoing message.
func RecordSend(result string) {
	sendResults.WithLabelValues(result).Inc()
}

// RecordAssistantReply records how the assistant handled an incoming message.
func RecordAssistantReply(outcome string) {
	assistantReplies.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records the duration of an API request.
func ObserveHTTPRequest(route, code string, duration time.Duration) {
	httpDuration.WithLabelValues(route, code).Observe(duration.Seconds())
}

// SetupMetricsEndpoint starts an HTTP server exposing /metrics.
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/chatgate/pkg/api"
	"github.com/united-manufacturing-hub/chatgate/pkg/assistant"
	"github.com/united-manufacturing-hub/chatgate/pkg/config"
	"github.com/united-manufacturing-hub/chatgate/pkg/constants"
	"github.com/united-manufacturing-hub/chatgate/pkg/env"
	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
	"github.com/united-manufacturing-hub/chatgate/pkg/sentry"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient/bridge"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/filesystem"
	"github.com/united-manufacturing-hub/chatgate/pkg/session"
	"github.com/united-manufacturing-hub/chatgate/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Multi-tenant chat gateway",
	Long: `chatgate keeps one chat client session per tenant alive, reports
its connection status and sends messages through it over HTTP.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.AppVersion)
	},
}

func init() {
	defaultPath, _ := env.GetAsString("CONFIG_PATH", false, constants.DefaultConfigPath)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", defaultPath, "path of the yaml config file")

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger.Initialize(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return sentry.NewSentryHook(core)
	}))

	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting chatgate %s", version.AppVersion)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, filesystem.NewDefaultService(), configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sentry.InitSentry(version.AppVersion, cfg.Sentry.DSN, cfg.Sentry.DebounceErrors)

	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.MetricsPort))

	factory, err := bridge.NewFactory(cfg.Bridge)
	if err != nil {
		return fmt.Errorf("create client factory: %w", err)
	}

	var (
		manager *session.Manager
		opts    []session.Option
	)

	if cfg.Assistant.Enabled {
		sender := assistant.SenderFunc(func(ctx context.Context, tenant, number, body string) (session.SendResult, error) {
			return manager.SendMessage(ctx, tenant, number, body)
		})
		responder := assistant.NewResponder(assistant.NewClient(cfg.Assistant, nil), sender, cfg.Assistant)
		opts = append(opts, session.WithMessageHandler(responder.Handler()))
	} else {
		log.Info("Assistant disabled, incoming messages are dropped")
	}

	manager, err = session.NewManager(factory, cfg.Session, opts...)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	manager.Start()

	server := api.NewServer(manager, cfg.Server)
	server.Start()

	<-ctx.Done()
	log.Info("Shutting down")

	serverCtx, cancelServer := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelServer()

	if err := server.Shutdown(serverCtx); err != nil {
		log.Warnf("API server shutdown: %v", err)
	}

	sessionCtx, cancelSessions := context.WithTimeout(context.Background(), constants.SessionShutdownTimeout)
	defer cancelSessions()

	if err := manager.Shutdown(sessionCtx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Session shutdown incomplete: %v", err)
	}

	metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelMetrics()

	if err := metricsServer.Shutdown(metricsCtx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %v", err)
	}

	log.Info("chatgate stopped")

	return nil
}

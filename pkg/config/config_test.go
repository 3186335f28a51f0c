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

package config_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/chatgate/pkg/config"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/filesystem"
)

func setenv(key, value string) {
	old, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())

	DeferCleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

const fullYAML = `
server:
  port: 9000
metricsPort: 9001
session:
  authDir: /data/auth
  livenessProbeTimeout: 5s
  probeFailureThreshold: 3
  reconnect:
    enabled: true
    graceWindow: 20s
    policy:
      initialDelay: 1s
      multiplier: 3
      maxDelay: 30s
      maxAttempts: 5
    permanentReasons: [LOGOUT, BANNED]
  monitor:
    enabled: true
    interval: 30s
    staleDisconnectAfter: 15m
    concurrency: 4
bridge:
  command: /usr/bin/node
  args: [/app/sidecar.js]
  headless: false
assistant:
  enabled: false
`

var _ = Describe("ParseConfig", func() {
	It("keeps defaults for an empty document", func() {
		cfg, err := config.ParseConfig(nil, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.Default()))
	})

	It("decodes durations and nested sections over the defaults", func() {
		cfg, err := config.ParseConfig([]byte(fullYAML), false)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Server.Port).To(Equal(9000))
		Expect(cfg.Session.AuthDir).To(Equal("/data/auth"))
		Expect(cfg.Session.LivenessProbeTimeout).To(Equal(5 * time.Second))
		Expect(cfg.Session.ProbeFailureThreshold).To(Equal(3))
		Expect(cfg.Session.Reconnect.Policy.Multiplier).To(Equal(3.0))
		Expect(cfg.Session.Reconnect.Policy.MaxAttempts).To(Equal(5))
		Expect(cfg.Session.Reconnect.PermanentReasons).To(ConsistOf("LOGOUT", "BANNED"))
		Expect(cfg.Session.Monitor.StaleDisconnectAfter).To(Equal(15 * time.Minute))
		Expect(cfg.Bridge.Args).To(Equal([]string{"/app/sidecar.js"}))
		Expect(cfg.Bridge.Headless).To(BeFalse())

		// untouched fields keep their defaults
		Expect(cfg.Session.SendTimeout).To(Equal(config.Default().Session.SendTimeout))
	})

	It("rejects unknown fields unless allowed", func() {
		data := []byte("server:\n  port: 9000\n  tls: true\n")

		_, err := config.ParseConfig(data, false)
		Expect(err).To(HaveOccurred())

		_, err = config.ParseConfig(data, true)
		Expect(err).NotTo(HaveOccurred())
	})

	It("fails on malformed yaml", func() {
		_, err := config.ParseConfig([]byte("server: [port"), false)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Load", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		setenv("AUTH_TOKEN", "token-from-env")
	})

	It("uses defaults when the file is missing", func() {
		cfg, err := config.Load(ctx, filesystem.NewMockFileSystem(), "/data/config.yaml")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.AuthToken).To(Equal("token-from-env"))
		Expect(cfg.Bridge.AuthDir).To(Equal(cfg.Session.AuthDir))
	})

	It("reads the file and lets the environment win", func() {
		fs := filesystem.NewMockFileSystem().WithFile("/data/config.yaml", []byte(fullYAML))
		setenv("PORT", "9100")
		setenv("AUTH_DIR", "/mnt/auth")
		setenv("HEADLESS", "true")
		setenv("MONITOR_INTERVAL", "45s")

		cfg, err := config.Load(ctx, fs, "/data/config.yaml")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(Equal(9100))
		Expect(cfg.Session.AuthDir).To(Equal("/mnt/auth"))
		Expect(cfg.Bridge.AuthDir).To(Equal("/mnt/auth"))
		Expect(cfg.Bridge.Headless).To(BeTrue())
		Expect(cfg.Session.Monitor.Interval).To(Equal(45 * time.Second))
	})

	It("requires the auth token", func() {
		setenv("AUTH_TOKEN", "")

		_, err := config.Load(ctx, filesystem.NewMockFileSystem(), "/data/config.yaml")
		Expect(err).To(MatchError(ContainSubstring("auth token")))
	})

	It("validates the assistant once it is enabled", func() {
		setenv("ASSISTANT_ENABLED", "yes")

		_, err := config.Load(ctx, filesystem.NewMockFileSystem(), "/data/config.yaml")
		Expect(err).To(MatchError(ContainSubstring("assistant.baseUrl")))
	})

	It("rejects a metrics port that collides with the api", func() {
		setenv("METRICS_PORT", "8080")

		_, err := config.Load(ctx, filesystem.NewMockFileSystem(), "/data/config.yaml")
		Expect(err).To(MatchError(ContainSubstring("metricsPort")))
	})
})

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

package constants

import "time"

const (
	DefaultAppVersion             = "0.0.0-dev"
	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

const (
	DefaultPort        = 8080
	DefaultMetricsPort = 8081
	DefaultConfigPath  = "/data/config.yaml"

	// ServerShutdownTimeout bounds the graceful http shutdown.
	ServerShutdownTimeout = time.Second * 3
	// SessionShutdownTimeout bounds destroying every session on exit. It stays below the
	// supervisor kill timeout of 35s.
	SessionShutdownTimeout = time.Second * 30
)

const (
	AssistantThreadTTL   = time.Hour * 24
	AssistantResponseTTL = time.Minute * 2
	AssistantTimeout     = time.Second * 60
)

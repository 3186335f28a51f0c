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

package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/united-manufacturing-hub/chatgate/pkg/logger"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// Config describes how to start the sidecar.
type Config struct {
	// Command is the sidecar executable, Args are passed before the per-tenant flags.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// AuthDir is passed as --data-path, the sidecar keeps credentials below it.
	AuthDir  string   `yaml:"-"`
	Headless bool     `yaml:"headless"`
	Env      []string `yaml:"env"`
}

func (c Config) Validate() error {
	if c.Command == "" {
		return errors.New("bridge command is required")
	}

	return nil
}

// NewFactory returns a chatclient.Factory that starts one sidecar per client.
// The process is launched by Initialize, not by the factory.
func NewFactory(cfg Config) (chatclient.Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.For(logger.ComponentBridge)
	launch := execLauncher(cfg)

	return func(tenant string) (chatclient.Client, error) {
		if tenant == "" {
			return nil, errors.New("tenant is required")
		}

		return newClient(tenant, launch, log), nil
	}, nil
}

func (c Config) args(tenant string) []string {
	args := append([]string(nil), c.Args...)
	args = append(args, "--client-id", tenant, "--data-path", c.AuthDir)

	if !c.Headless {
		args = append(args, "--headless=false")
	}

	return args
}

func execLauncher(cfg Config) launcher {
	return func(_ context.Context, tenant string) (*conn, error) {
		// not tied to the init context, the sidecar outlives the request that started it
		cmd := exec.Command(cfg.Command, cfg.args(tenant)...)
		cmd.Env = append(os.Environ(), cfg.Env...)
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Setpgid: true,
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}

		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
		}

		return &conn{
			stdin:  stdin,
			stdout: stdout,
			stderr: stderr,
			pid:    cmd.Process.Pid,
			wait:   cmd.Wait,
			kill: func() error {
				return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			},
		}, nil
	}
}

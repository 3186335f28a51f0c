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

package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// ErrTransitionRejected is returned when an event is not allowed from the current state.
var ErrTransitionRejected = errors.New("transition rejected")

// TransitionHook is invoked after every completed transition.
type TransitionHook func(ctx context.Context, event, from, to string)

// BaseMachineConfig describes the states and transitions of a machine.
type BaseMachineConfig struct {
	// ID is used in log lines and error messages
	ID string
	// InitialState is the state the machine starts in
	InitialState string
	// Transitions lists every allowed event
	Transitions []fsm.EventDesc
}

// BaseMachine wraps a looplab FSM with context checks, per-state callbacks
// and a transition hook. It is safe for concurrent use, but callbacks must
// not send events themselves.
type BaseMachine struct {
	cfg BaseMachineConfig

	mu  sync.RWMutex
	fsm *fsm.FSM

	// callbacks are keyed by "enter_<state>" or "leave_<state>"
	callbacks map[string]fsm.Callback
	hooks     []TransitionHook

	logger *zap.SugaredLogger
}

// NewBaseMachine creates a machine in cfg.InitialState.
func NewBaseMachine(cfg BaseMachineConfig, logger *zap.SugaredLogger) *BaseMachine {
	m := &BaseMachine{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	m.fsm = fsm.NewFSM(
		cfg.InitialState,
		cfg.Transitions,
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.mu.RLock()
				cb, ok := m.callbacks["enter_"+e.Dst]
				hooks := m.hooks
				m.mu.RUnlock()

				m.logger.Debugf("%s: %s -> %s (%s)", m.cfg.ID, e.Src, e.Dst, e.Event)

				if ok {
					cb(ctx, e)
				}

				for _, h := range hooks {
					h(ctx, e.Event, e.Src, e.Dst)
				}
			},
			"leave_state": func(ctx context.Context, e *fsm.Event) {
				m.mu.RLock()
				cb, ok := m.callbacks["leave_"+e.Src]
				m.mu.RUnlock()

				if ok {
					cb(ctx, e)
				}
			},
		},
	)

	return m
}

// AddCallback registers a callback for "enter_<state>" or "leave_<state>".
// A later registration for the same name replaces the earlier one.
func (m *BaseMachine) AddCallback(name string, cb fsm.Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callbacks[name] = cb
}

// OnTransition adds a hook that observes every completed transition.
func (m *BaseMachine) OnTransition(h TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, h)
}

// SendEvent fires event. A cancelled context rejects the event before the
// machine is touched. Firing an event whose target equals the current state
// is a no-op. Events not allowed from the current state wrap ErrTransitionRejected.
func (m *BaseMachine) SendEvent(ctx context.Context, event string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := m.fsm.Event(ctx, event, args...)
	if err == nil {
		return nil
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%s: %w: %s in state %s", m.cfg.ID, ErrTransitionRejected, event, invalid.State)
	}

	var unknown fsm.UnknownEventError
	if errors.As(err, &unknown) {
		return fmt.Errorf("%s: %w: unknown event %s", m.cfg.ID, ErrTransitionRejected, event)
	}

	return fmt.Errorf("%s: event %s: %w", m.cfg.ID, event, err)
}

// Can reports whether event is allowed from the current state.
func (m *BaseMachine) Can(event string) bool {
	return m.fsm.Can(event)
}

// GetCurrentFSMState returns the current state.
func (m *BaseMachine) GetCurrentFSMState() string {
	return m.fsm.Current()
}

// ID returns the configured identifier.
func (m *BaseMachine) ID() string {
	return m.cfg.ID
}

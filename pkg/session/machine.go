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

package session

import (
	"context"

	looplab "github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/chatgate/internal/fsm"
	"github.com/united-manufacturing-hub/chatgate/pkg/metrics"
)

var allButDestroying = []string{
	StateUninitialized,
	StateConnecting,
	StateQRPending,
	StateAuthenticatedSyncing,
	StateReady,
	StateDisconnected,
	StateReconnecting,
}

// Transitions is the connection state machine.
var Transitions = []looplab.EventDesc{
	{Name: EventConnect, Src: []string{StateUninitialized}, Dst: StateConnecting},
	{Name: EventQR, Src: []string{StateConnecting, StateReconnecting}, Dst: StateQRPending},
	{Name: EventAuthenticated, Src: []string{StateConnecting, StateQRPending, StateReconnecting}, Dst: StateAuthenticatedSyncing},
	{Name: EventReady, Src: []string{StateConnecting, StateQRPending, StateAuthenticatedSyncing, StateReconnecting}, Dst: StateReady},
	{Name: EventDisconnect, Src: []string{StateConnecting, StateQRPending, StateAuthenticatedSyncing, StateReady}, Dst: StateDisconnected},
	{Name: EventReconnect, Src: []string{StateDisconnected}, Dst: StateReconnecting},
	{Name: EventDestroy, Src: allButDestroying, Dst: StateDestroying},
}

func stringArg(e *looplab.Event) string {
	if len(e.Args) == 0 {
		return ""
	}

	v, _ := e.Args[0].(string)

	return v
}

// attachMachine builds the state machine of s. Enter callbacks keep the
// session invariants, the transition hook publishes the new state.
func (s *Session) attachMachine(log *zap.SugaredLogger) {
	m := fsm.NewBaseMachine(fsm.BaseMachineConfig{
		ID:           s.tenant,
		InitialState: StateUninitialized,
		Transitions:  Transitions,
	}, log)

	m.AddCallback("leave_"+StateQRPending, func(_ context.Context, _ *looplab.Event) {
		s.update(func(i *Info) { i.PairingCode = "" })
	})

	m.AddCallback("enter_"+StateQRPending, func(_ context.Context, e *looplab.Event) {
		code := stringArg(e)
		s.update(func(i *Info) { i.PairingCode = code })
	})

	m.AddCallback("enter_"+StateAuthenticatedSyncing, func(_ context.Context, _ *looplab.Event) {
		now := s.now()
		s.update(func(i *Info) {
			i.AuthenticatedAt = now
			i.SyncProgressPercent = 0
			i.SyncStatusMessage = ""
			i.ForcedReadyBy = ""
		})
	})

	m.AddCallback("enter_"+StateReady, func(_ context.Context, e *looplab.Event) {
		now := s.now()
		rule := stringArg(e)
		s.update(func(i *Info) {
			i.ReadyAt = now
			i.PairingCode = ""
			i.ReconnectAttempts = 0
			i.ConsecutiveProbeFailures = 0
			i.SyncProgressPercent = 100
			i.ForcedReadyBy = rule
			if i.AuthenticatedAt.IsZero() {
				i.AuthenticatedAt = now
			}
		})
	})

	m.AddCallback("enter_"+StateDisconnected, func(_ context.Context, e *looplab.Event) {
		now := s.now()
		reason := stringArg(e)
		s.update(func(i *Info) {
			i.LastDisconnectAt = now
			i.LastDisconnectReason = reason
			i.PairingCode = ""
		})
	})

	m.OnTransition(func(_ context.Context, _ string, _ string, to string) {
		now := s.now()
		s.update(func(i *Info) {
			i.State = to
			i.LastStateChangeAt = now
		})
		s.notify()
		metrics.UpdateSessionState(s.tenant, to)
	})

	s.machine = m
}

// fire sends event to the state machine. Token held.
func (s *Session) fire(event string, args ...interface{}) error {
	return s.machine.SendEvent(context.Background(), event, args...)
}

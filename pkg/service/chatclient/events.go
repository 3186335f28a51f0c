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

package chatclient

import (
	"time"
)

// EventKind names a client lifecycle event.
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventAuthFailure   EventKind = "auth_failure"
	EventLoading       EventKind = "loading"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
	EventStateChanged  EventKind = "state_changed"
	EventBattery       EventKind = "battery"
	EventError         EventKind = "error"
	EventMessage       EventKind = "message"
)

// Event is a single client notification. Only the fields of its kind are set.
type Event struct {
	Kind EventKind
	At   time.Time

	// PairingCode is set for EventQR.
	PairingCode string
	// Reason is set for EventDisconnected and EventAuthFailure.
	Reason string
	// State is set for EventStateChanged.
	State ConnectivityState
	// Percent and Message are set for EventLoading.
	Percent int
	Message string
	// Err is set for EventError.
	Err error
	// Incoming is set for EventMessage.
	Incoming *IncomingMessage
}

func QR(code string) Event { return Event{Kind: EventQR, PairingCode: code, At: time.Now()} }

func Authenticated() Event { return Event{Kind: EventAuthenticated, At: time.Now()} }

func AuthFailure(msg string) Event {
	return Event{Kind: EventAuthFailure, Reason: msg, At: time.Now()}
}

func Loading(percent int, msg string) Event {
	return Event{Kind: EventLoading, Percent: percent, Message: msg, At: time.Now()}
}

func Ready() Event { return Event{Kind: EventReady, At: time.Now()} }

func Disconnected(reason string) Event {
	return Event{Kind: EventDisconnected, Reason: reason, At: time.Now()}
}

func StateChanged(state ConnectivityState) Event {
	return Event{Kind: EventStateChanged, State: state, At: time.Now()}
}

func Battery() Event { return Event{Kind: EventBattery, At: time.Now()} }

func Error(err error) Event { return Event{Kind: EventError, Err: err, At: time.Now()} }

func Message(msg IncomingMessage) Event {
	return Event{Kind: EventMessage, Incoming: &msg, At: time.Now()}
}

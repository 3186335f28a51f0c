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
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/chatgate/pkg/safejson"
	"github.com/united-manufacturing-hub/chatgate/pkg/service/chatclient"
)

// Operations understood by the sidecar.
const (
	opInitialize  = "initialize"
	opGetState    = "getState"
	opGetSelfInfo = "getSelfInfo"
	opGetChats    = "getChats"
	opSendMessage = "sendMessage"
	opLogout      = "logout"
	opDestroy     = "destroy"
)

// Event names emitted by the sidecar. They follow the web client library.
const (
	evQR            = "qr"
	evAuthenticated = "authenticated"
	evAuthFailure   = "auth_failure"
	evLoadingScreen = "loading_screen"
	evReady         = "ready"
	evDisconnected  = "disconnected"
	evChangeState   = "change_state"
	evChangeBattery = "change_battery"
	evMessage       = "message"
	evError         = "error"
)

// request is one line written to the sidecar's stdin.
type request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

// frame is one line read from the sidecar's stdout. A frame with Event set
// is a notification, any other frame answers the request with the same ID.
type frame struct {
	ID     string              `json:"id,omitempty"`
	Result safejson.RawMessage `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Event  string              `json:"event,omitempty"`
	Data   safejson.RawMessage `json:"data,omitempty"`
}

type sendArgs struct {
	ChatID string `json:"chatId"`
	Body   string `json:"body"`
}

type loadingData struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

type messageData struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	FromMe    bool   `json:"fromMe"`
	IsGroup   bool   `json:"isGroup"`
	IsStatus  bool   `json:"isStatus"`
	Timestamp int64  `json:"timestamp"`
}

type sentData struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Timestamp int64  `json:"timestamp"`
}

// RemoteError is an error reported by the sidecar for a request.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func decodeString(data safejson.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var s string
	if err := safejson.Unmarshal(data, &s); err != nil {
		return string(data)
	}

	return s
}

// toEvent translates a sidecar notification. Unknown names are reported
// with ok=false and skipped by the reader.
func toEvent(f frame) (ev chatclient.Event, ok bool, err error) {
	switch f.Event {
	case evQR:
		return chatclient.QR(decodeString(f.Data)), true, nil
	case evAuthenticated:
		return chatclient.Authenticated(), true, nil
	case evAuthFailure:
		return chatclient.AuthFailure(decodeString(f.Data)), true, nil
	case evLoadingScreen:
		var d loadingData
		if err := safejson.Unmarshal(f.Data, &d); err != nil {
			return ev, false, fmt.Errorf("decode %s: %w", f.Event, err)
		}

		return chatclient.Loading(d.Percent, d.Message), true, nil
	case evReady:
		return chatclient.Ready(), true, nil
	case evDisconnected:
		return chatclient.Disconnected(decodeString(f.Data)), true, nil
	case evChangeState:
		return chatclient.StateChanged(chatclient.ConnectivityState(decodeString(f.Data)).Normalize()), true, nil
	case evChangeBattery:
		return chatclient.Battery(), true, nil
	case evError:
		return chatclient.Error(errors.New(decodeString(f.Data))), true, nil
	case evMessage:
		var d messageData
		if err := safejson.Unmarshal(f.Data, &d); err != nil {
			return ev, false, fmt.Errorf("decode %s: %w", f.Event, err)
		}

		return chatclient.Message(chatclient.IncomingMessage{
			ID:        d.ID,
			From:      d.From,
			Body:      d.Body,
			FromMe:    d.FromMe,
			IsGroup:   d.IsGroup,
			IsStatus:  d.IsStatus,
			Timestamp: unixTime(d.Timestamp),
		}), true, nil
	default:
		return ev, false, nil
	}
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}

	return time.Unix(sec, 0)
}

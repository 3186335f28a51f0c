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

package sentry

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/DataDog/gostackparse"
	"github.com/getsentry/sentry-go"
)

// captureGoroutinesAsThreads dumps every goroutine and converts it into a
// sentry thread. A stuck session usually shows up as a goroutine parked in a
// client call, which is why the full dump is attached.
func captureGoroutinesAsThreads() ([]sentry.Thread, []byte) {
	stack := entireStack()

	goroutines, errs := gostackparse.Parse(bytes.NewReader(stack))
	if len(errs) > 0 && len(goroutines) == 0 {
		return nil, stack
	}

	threads := make([]sentry.Thread, 0, len(goroutines))
	for _, g := range goroutines {
		threads = append(threads, sentry.Thread{
			ID:         strconv.Itoa(g.ID),
			Name:       fmt.Sprintf("Goroutine %d [%s]", g.ID, g.State),
			Stacktrace: &sentry.Stacktrace{Frames: convertFrames(g.Stack)},
		})
	}

	return threads, stack
}

func entireStack() []byte {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}

		buf = make([]byte, 2*len(buf))
	}
}

// convertFrames reverses the order, sentry expects the innermost frame last.
func convertFrames(goroutineFrames []*gostackparse.Frame) []sentry.Frame {
	frames := make([]sentry.Frame, 0, len(goroutineFrames))

	for i := len(goroutineFrames) - 1; i >= 0; i-- {
		gf := goroutineFrames[i]
		frames = append(frames, sentry.Frame{
			Function: gf.Func,
			Filename: filepath.Base(gf.File),
			Lineno:   gf.Line,
			AbsPath:  gf.File,
		})
	}

	return frames
}

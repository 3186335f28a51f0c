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

package ctxutil_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/chatgate/pkg/ctxutil"
)

var _ = Describe("HasSufficientTime", func() {
	It("should return error for context with no deadline", func() {
		remaining, sufficient, err := ctxutil.HasSufficientTime(context.Background(), 10*time.Millisecond)

		Expect(sufficient).To(BeFalse())
		Expect(err).To(MatchError(ctxutil.ErrNoDeadline))
		Expect(remaining).To(Equal(time.Duration(0)))
	})

	It("should return sufficient=true for context with enough time", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		remaining, sufficient, err := ctxutil.HasSufficientTime(ctx, 100*time.Millisecond)

		Expect(sufficient).To(BeTrue())
		Expect(err).ToNot(HaveOccurred())
		Expect(remaining).To(BeNumerically(">", 0))
	})

	It("should not treat insufficient time as an error", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()

		_, sufficient, err := ctxutil.HasSufficientTime(ctx, 50*time.Millisecond)

		Expect(sufficient).To(BeFalse())
		Expect(err).ToNot(HaveOccurred())
	})
})

var _ = Describe("WithBoundedTimeout", func() {
	It("caps the wait at the given timeout", func() {
		ctx, cancel := ctxutil.WithBoundedTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		Eventually(ctx.Done()).WithTimeout(time.Second).Should(BeClosed())
		Expect(ctx.Err()).To(MatchError(context.DeadlineExceeded))
	})

	It("keeps the closer parent deadline", func() {
		parent, cancelParent := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelParent()

		ctx, cancel := ctxutil.WithBoundedTimeout(parent, time.Hour)
		defer cancel()

		deadline, ok := ctx.Deadline()
		Expect(ok).To(BeTrue())
		Expect(time.Until(deadline)).To(BeNumerically("<", time.Second))
	})

	It("only cancels when asked for a non-positive timeout", func() {
		ctx, cancel := ctxutil.WithBoundedTimeout(context.Background(), 0)
		_, ok := ctx.Deadline()
		Expect(ok).To(BeFalse())

		cancel()
		Expect(ctx.Err()).To(MatchError(context.Canceled))
	})
})

var _ = Describe("Detached", func() {
	It("survives cancellation of the parent", func() {
		parent, cancel := context.WithCancel(context.Background())
		ctx := ctxutil.Detached(parent)
		cancel()

		Expect(parent.Err()).To(HaveOccurred())
		Expect(ctx.Err()).ToNot(HaveOccurred())
	})
})

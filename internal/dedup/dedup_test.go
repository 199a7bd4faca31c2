// Copyright (c) 2026 The meshbbs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshbbs/meshbbs/internal/model"
)

func TestSeenRing(t *testing.T) {
	r := NewSeenRing()
	require.False(t, r.SeenBefore("a"))
	require.True(t, r.SeenBefore("a"))
	require.False(t, r.SeenBefore("b"))
}

func TestSeenRingEviction(t *testing.T) {
	r := NewSeenRing()
	for i := 0; i < SeenRingSize+10; i++ {
		r.SeenBefore("pkt-" + strconv.Itoa(i))
	}
	// the oldest id should have been evicted by now.
	require.False(t, r.SeenBefore("pkt-0"))
}

func TestFingerprintCacheSuppressesWithinTTL(t *testing.T) {
	f := NewFingerprintCache()
	from := model.NodeId("!deadbeef")
	require.False(t, f.SeenBefore(from, "hello"))
	require.True(t, f.SeenBefore(from, "hello"))
	require.False(t, f.SeenBefore(from, "different"))
}

func TestFingerprintCacheDistinctSenders(t *testing.T) {
	f := NewFingerprintCache()
	require.False(t, f.SeenBefore(model.NodeId("!aaaa"), "hi"))
	require.False(t, f.SeenBefore(model.NodeId("!bbbb"), "hi"))
}


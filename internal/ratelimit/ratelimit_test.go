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

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshbbs/meshbbs/internal/model"
)

func TestGateAllowsFirstThenBlocks(t *testing.T) {
	g := NewGate(time.Minute)
	from := model.NodeId("!aaaa")
	require.True(t, g.Allow(from))
	require.False(t, g.Allow(from))
}

func TestGateIsPerSender(t *testing.T) {
	g := NewGate(time.Minute)
	require.True(t, g.Allow(model.NodeId("!aaaa")))
	require.True(t, g.Allow(model.NodeId("!bbbb")))
}

func TestGateAllowsAgainAfterInterval(t *testing.T) {
	g := NewGate(20 * time.Millisecond)
	from := model.NodeId("!cccc")
	require.True(t, g.Allow(from))
	require.False(t, g.Allow(from))
	time.Sleep(30 * time.Millisecond)
	require.True(t, g.Allow(from))
}

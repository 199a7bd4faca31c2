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

package pager

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaginateSingleFrameUnprefixed(t *testing.T) {
	out := Paginate([]string{"hello", "world"}, 80)
	require.Equal(t, []string{"hello\nworld"}, out)
}

func TestPaginateEmpty(t *testing.T) {
	require.Empty(t, Paginate(nil, 80))
}

func TestPaginateMultiFramePrefixed(t *testing.T) {
	lines := []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"}
	out := Paginate(lines, 15)
	require.Len(t, out, 3)
	for i, frame := range out {
		require.Contains(t, frame, "("+string(rune('1'+i))+"/3) ")
		require.LessOrEqual(t, len(frame), 15)
	}
}

func TestPaginateExactMaxTextSingleFrameNoPrefix(t *testing.T) {
	line := strings.Repeat("x", 110)
	out := Paginate([]string{line}, 110)
	require.Equal(t, []string{line}, out)
}

func TestPaginatePrefixNeverTruncatesContent(t *testing.T) {
	lines := []string{
		"the quick brown fox jumps over the lazy dog",
		"pack my box with five dozen liquor jugs",
		"sphinx of black quartz judge my vow",
	}
	out := Paginate(lines, 40)
	require.Greater(t, len(out), 1)

	// Concatenating the de-prefixed bodies reproduces the original
	// rendering modulo the frame-boundary separators.
	var got strings.Builder
	for i, frame := range out {
		body, ok := strings.CutPrefix(frame, "("+strconv.Itoa(i+1)+"/"+strconv.Itoa(len(out))+") ")
		require.True(t, ok)
		if i > 0 {
			got.WriteString("\n")
		}
		got.WriteString(body)
	}
	want := strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
	joined := strings.Join(strings.Fields(got.String()), " ")
	require.Equal(t, want, joined)
}

func TestPaginateSplitsOnWordBoundary(t *testing.T) {
	out := Paginate([]string{"one two three four five six seven"}, 12)
	require.Greater(t, len(out), 1)
	for _, frame := range out {
		require.LessOrEqual(t, len(frame), 12)
	}
}

func TestPaginateHardCutsOverlongWord(t *testing.T) {
	out := Paginate([]string{"supercalifragilisticexpialidocious"}, 10)
	for _, frame := range out {
		require.LessOrEqual(t, len(frame), 10)
	}
	require.Greater(t, len(out), 1)
}

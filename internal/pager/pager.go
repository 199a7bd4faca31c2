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

// Package pager packs reply lines into radio frames no longer than a
// configured maximum, prefixing each frame with "(i/N) " when more than
// one frame is needed.
package pager

import (
	"strconv"
	"strings"
)

// Paginate packs lines into frames no longer than maxLen (after any "(i/N)
// " prefix is applied). A single line longer than the frame budget is split
// on word boundaries; a single word longer than the budget is hard-cut.
// Prefixes never truncate content: when more than one frame is needed, the
// lines are repacked against a budget that reserves the prefix width.
func Paginate(lines []string, maxLen int) []string {
	frames := pack(lines, maxLen)
	if len(frames) <= 1 {
		return frames
	}

	// The prefix consumes part of the frame budget, which can itself push
	// content into more frames (and a wider prefix); repack until the
	// frame count stabilizes.
	for {
		reserve := len(prefixFor(len(frames), len(frames)))
		if reserve >= maxLen {
			break
		}
		repacked := pack(lines, maxLen-reserve)
		if len(repacked) == len(frames) {
			frames = repacked
			break
		}
		frames = repacked
	}

	out := make([]string, len(frames))
	for i, frame := range frames {
		out[i] = prefixFor(i+1, len(frames)) + frame
	}
	return out
}

// Split packs lines into unprefixed frames of at most maxLen characters,
// for callers that manage their own framing.
func Split(lines []string, maxLen int) []string {
	return pack(lines, maxLen)
}

// pack greedily joins lines into frames of at most maxLen characters.
func pack(lines []string, maxLen int) []string {
	var packed []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			packed = append(packed, cur.String())
			cur.Reset()
		}
	}

	for _, line := range lines {
		for _, piece := range splitLine(line, maxLen) {
			candidate := piece
			if cur.Len() > 0 {
				candidate = cur.String() + "\n" + piece
			}
			if len(candidate) <= maxLen {
				cur.Reset()
				cur.WriteString(candidate)
				continue
			}
			flush()
			cur.WriteString(piece)
		}
	}
	flush()
	return packed
}

func prefixFor(i, n int) string {
	return "(" + strconv.Itoa(i) + "/" + strconv.Itoa(n) + ") "
}

// splitLine splits a single logical line into pieces no longer than
// maxLen, first on word boundaries, then (for an overlong single word) by
// hard character cut.
func splitLine(line string, maxLen int) []string {
	if len(line) <= maxLen {
		return []string{line}
	}
	words := strings.Fields(line)
	if len(words) == 0 {
		return hardCut(line, maxLen)
	}
	var out []string
	var cur strings.Builder
	for _, w := range words {
		if len(w) > maxLen {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, hardCut(w, maxLen)...)
			continue
		}
		candidate := w
		if cur.Len() > 0 {
			candidate = cur.String() + " " + w
		}
		if len(candidate) <= maxLen {
			cur.Reset()
			cur.WriteString(candidate)
			continue
		}
		out = append(out, cur.String())
		cur.Reset()
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func hardCut(s string, maxLen int) []string {
	if maxLen <= 0 {
		return []string{s}
	}
	var out []string
	r := []rune(s)
	for len(r) > 0 {
		n := maxLen
		if n > len(r) {
			n = len(r)
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}

// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"encoding/binary"
	"math"
	"math/rand"
	"time"
)

// concealer synthesizes replacement audio for missing frames, implementing
// the four strategies of spec §4.5: silence, repeat-with-fade, waveform
// substitution by pattern matching, and an advanced mode that layers
// low-level comfort noise under the pattern match.
type concealer struct {
	mode        PLCMode
	sampleRate  int
	channels    int
	lastFrame   []byte
	history     []byte // ring of recent good frames, for pattern matching
	historyCap  int
	rng         *rand.Rand
}

const concealerHistoryFrames = 6

func newConcealer(mode PLCMode, sampleRate, channels int) *concealer {
	if channels <= 0 {
		channels = 1
	}
	return &concealer{
		mode:       mode,
		sampleRate: sampleRate,
		channels:   channels,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// observe records a successfully decoded frame as the concealer's reference
// for the next loss.
func (c *concealer) observe(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	c.lastFrame = append(c.lastFrame[:0], pcm...)

	c.history = append(c.history, pcm...)
	if c.historyCap == 0 {
		c.historyCap = len(pcm) * concealerHistoryFrames
	}
	if len(c.history) > c.historyCap {
		c.history = c.history[len(c.history)-c.historyCap:]
	}
}

// conceal synthesizes one frame of replacement audio. consecutiveLoss counts
// how many frames in a row have been concealed; only Repeat mode uses it, to
// lengthen the fade-out by 20ms per consecutive loss (spec §4.5 "Repeat"
// mode).
func (c *concealer) conceal(consecutiveLoss int) []byte {
	if c.lastFrame == nil {
		return make([]byte, c.frameSizeGuess())
	}

	switch c.mode {
	case PLCSilence:
		return make([]byte, len(c.lastFrame))

	case PLCRepeat:
		out := append([]byte(nil), c.lastFrame...)
		fadeIn := time.Duration(consecutiveLoss) * 20 * time.Millisecond
		_ = FadeOut(out, PCMProps{SampleRate: c.sampleRate, NumChannels: c.channels}, fadeIn)
		return out

	case PLCPattern:
		return c.patternMatch()

	case PLCAdvanced:
		out := c.patternMatch()
		c.mixComfortNoise(out)
		return out

	default:
		return append([]byte(nil), c.lastFrame...)
	}
}

func (c *concealer) frameSizeGuess() int {
	if len(c.lastFrame) > 0 {
		return len(c.lastFrame)
	}
	return c.sampleRate / 50 * 2 * c.channels // 20ms default
}

// patternMatch finds the best-correlated window in recent history against
// the whole of lastFrame and extrapolates it forward, a cheap waveform
// substitution PLC (spec §4.5 "Pattern" mode).
func (c *concealer) patternMatch() []byte {
	frameLen := len(c.lastFrame)
	if len(c.history) < frameLen*2 {
		return append([]byte(nil), c.lastFrame...)
	}

	ref := c.lastFrame
	bestScore := math.Inf(-1)
	bestOff := 0

	step := 2 * c.channels
	for off := 0; off+frameLen <= len(c.history); off += step {
		window := c.history[off : off+frameLen]
		score := correlate(ref, window)
		if score > bestScore {
			bestScore = score
			bestOff = off
		}
	}

	srcEnd := bestOff + frameLen
	if srcEnd+frameLen > len(c.history) {
		return append([]byte(nil), c.history[bestOff:srcEnd]...)
	}
	return append([]byte(nil), c.history[srcEnd:srcEnd+frameLen]...)
}

func correlate(a, b []byte) float64 {
	n := min(len(a), len(b)) / 2 * 2
	var sum float64
	for i := 0; i+2 <= n; i += 2 {
		sa := float64(int16(binary.LittleEndian.Uint16(a[i:])))
		sb := float64(int16(binary.LittleEndian.Uint16(b[i:])))
		sum += sa * sb
	}
	return sum
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// mixComfortNoise layers low-amplitude white noise under a concealed frame,
// the psychoacoustic touch spec §4.5's Advanced mode adds over Pattern.
func (c *concealer) mixComfortNoise(pcm []byte) {
	const noiseAmplitude = 40 // small relative to int16 range
	for i := 0; i+2 <= len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		noise := int16(c.rng.Intn(2*noiseAmplitude) - noiseAmplitude)
		sum := int32(s) + int32(noise)
		if sum > 32767 {
			sum = 32767
		}
		if sum < -32768 {
			sum = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(sum)))
	}
}

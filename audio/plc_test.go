// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n int, amplitude int16) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestConcealerNoPriorFrameReturnsSilence(t *testing.T) {
	c := newConcealer(PLCSilence, 8000, 1)
	out := c.conceal(1)
	assert.Equal(t, c.frameSizeGuess(), len(out))
}

func TestConcealerSilenceModeReturnsZeroedFrame(t *testing.T) {
	c := newConcealer(PLCSilence, 8000, 1)
	c.observe(tone(160, 1000))

	out := c.conceal(1)
	require.Equal(t, 320, len(out))
	for i := 0; i+2 <= len(out); i += 2 {
		assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(out[i:])))
	}
}

func TestConcealerRepeatModeFadesOverSuccessiveLoss(t *testing.T) {
	c := newConcealer(PLCRepeat, 8000, 1)
	// A frame long enough that 20ms and 200ms fade windows (driven by
	// consecutiveLoss) both fit without clamping to the whole frame.
	c.observe(tone(8000, 1000))

	first := c.conceal(1)
	later := c.conceal(10)
	require.Equal(t, len(first), len(later))
	assert.NotEqual(t, first, later, "fade-out gain should differ with more consecutive loss")
}

func TestConcealerPatternModeFallsBackWithoutHistory(t *testing.T) {
	c := newConcealer(PLCPattern, 8000, 1)
	c.observe(tone(160, 500))

	out := c.conceal(1)
	assert.Equal(t, 320, len(out))
}

func TestConcealerPatternModeUsesHistoryOnceFilled(t *testing.T) {
	c := newConcealer(PLCPattern, 8000, 1)
	for i := 0; i < concealerHistoryFrames+1; i++ {
		c.observe(tone(160, int16(100+i*10)))
	}

	out := c.patternMatch()
	assert.Equal(t, 320, len(out))
}

func TestConcealerAdvancedModeAddsComfortNoise(t *testing.T) {
	c := newConcealer(PLCAdvanced, 8000, 1)
	c.observe(tone(160, 1000))

	out := c.conceal(1)
	assert.Equal(t, 320, len(out))
}

func TestCorrelateIdenticalSignalsScoresHigherThanOpposite(t *testing.T) {
	a := tone(80, 1000)
	same := correlate(a, a)
	opposite := correlate(a, tone(80, -1000))
	assert.Greater(t, same, opposite)
}

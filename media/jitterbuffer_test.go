// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterBufferOrdersByScheduledPlayTime(t *testing.T) {
	jb := NewJitterBuffer(10, 20*time.Millisecond, 40*time.Millisecond, 100*time.Millisecond, 1.5)

	jb.Insert(clonePacketRecord(2, 2, 320, 2000, []byte{2}, false), 2000)
	jb.Insert(clonePacketRecord(1, 1, 160, 1000, []byte{1}, false), 1000)

	rec, res := jb.TryPop(1_000_000)
	require.Equal(t, PopReady, res)
	assert.Equal(t, uint16(1), rec.Sequence)

	rec, res = jb.TryPop(1_000_000)
	require.Equal(t, PopReady, res)
	assert.Equal(t, uint16(2), rec.Sequence)
}

func TestJitterBufferNotReadyBeforeScheduledTime(t *testing.T) {
	jb := NewJitterBuffer(10, 20*time.Millisecond, 40*time.Millisecond, 100*time.Millisecond, 1.5)
	jb.Insert(clonePacketRecord(1, 1, 160, 0, []byte{1}, false), 0)

	_, res := jb.TryPop(0)
	assert.Equal(t, PopNotReady, res)

	_, res = jb.TryPop(40_000)
	assert.Equal(t, PopReady, res)
}

func TestJitterBufferOverflowDropsNewest(t *testing.T) {
	jb := NewJitterBuffer(2, 20*time.Millisecond, 40*time.Millisecond, 100*time.Millisecond, 1.5)

	dropped := jb.Insert(clonePacketRecord(1, 1, 160, 0, []byte{1}, false), 0)
	assert.False(t, dropped)
	dropped = jb.Insert(clonePacketRecord(2, 2, 320, 10_000, []byte{2}, false), 10_000)
	assert.False(t, dropped)
	dropped = jb.Insert(clonePacketRecord(3, 3, 480, 20_000, []byte{3}, false), 20_000)
	assert.True(t, dropped, "third, newest-scheduled packet should be the one dropped")

	assert.Equal(t, 2, jb.Len())
}

func TestJitterBufferAdaptGrowsAndShrinksWithinBounds(t *testing.T) {
	jb := NewJitterBuffer(10, 20*time.Millisecond, 40*time.Millisecond, 100*time.Millisecond, 1.5)

	jb.Adapt(30, 0)
	assert.LessOrEqual(t, jb.CurrentDelayMs(), 100.0)
	assert.GreaterOrEqual(t, jb.CurrentDelayMs(), 20.0)

	for i := 0; i < 50; i++ {
		jb.Adapt(60, 0.1)
	}
	assert.LessOrEqual(t, jb.CurrentDelayMs(), 100.0)
}

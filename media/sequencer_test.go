// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceMachineProbationExitsAfterMinSequential(t *testing.T) {
	m := NewSequenceMachine(8000)

	res := m.Update(100, 1600, 1000)
	require.Equal(t, SeqProbation, res.Kind)

	res = m.Update(101, 1760, 1020)
	require.Equal(t, SeqInOrder, res.Kind)

	assert.Equal(t, uint16(101), m.baseSeq)
	assert.Equal(t, uint64(1), m.Received(), "the packet that establishes base_seq counts as received per RFC 3550 A.1")
}

func TestSequenceMachineWrapAround(t *testing.T) {
	m := NewSequenceMachine(8000)
	m.Update(65534, 1000, 1000)
	m.Update(65535, 1160, 1020)
	require.Equal(t, uint32(0), m.cycles)

	res := m.Update(0, 1320, 1040)
	assert.Equal(t, SeqInOrder, res.Kind)
	assert.Equal(t, uint32(1), m.cycles)
	assert.Equal(t, uint64(1<<16), res.Extended)
}

func TestSequenceMachineSmallBackwardIsOutOfOrder(t *testing.T) {
	m := NewSequenceMachine(8000)
	m.Update(200, 1000, 1000)
	m.Update(201, 1160, 1020)

	maxBefore := m.maxSeq
	res := m.Update(199, 840, 1010)
	assert.Equal(t, SeqOutOfOrder, res.Kind)
	assert.Equal(t, maxBefore, m.maxSeq)
}

func TestSequenceMachineLargeJumpRequiresConfirmation(t *testing.T) {
	m := NewSequenceMachine(8000)
	m.Update(100, 1000, 1000)
	m.Update(101, 1160, 1020)

	res := m.Update(40000, 2000, 1040)
	assert.Equal(t, SeqStale, res.Kind)

	res = m.Update(40001, 2160, 1060)
	assert.Equal(t, SeqRestart, res.Kind)
	assert.Equal(t, uint64(40001), res.Extended)
}

func TestSequenceMachineJitterEWMA(t *testing.T) {
	m := NewSequenceMachine(8000)
	m.Update(1, 0, 0)
	m.Update(2, 160, 20_000)
	res := m.Update(3, 320, 40_500)
	assert.InDelta(t, 0, res.JitterMs, 50)
}

// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReorderWait = 40 * time.Millisecond

func TestReorderBufferDuplicateRejected(t *testing.T) {
	rb := NewReorderBuffer(8, 5, testReorderWait, zerolog.Nop())
	rec := clonePacketRecord(10, 10, 1600, 1000, []byte{1, 2, 3}, false)

	require.NoError(t, rb.Insert(rec, 1000))
	err := rb.Insert(rec, 1000)
	assert.ErrorIs(t, err, ErrDroppedDuplicate)
}

func TestReorderBufferDuplicateAfterDeliveryRejected(t *testing.T) {
	rb := NewReorderBuffer(8, 5, testReorderWait, zerolog.Nop())
	rec := clonePacketRecord(10, 10, 1600, 1000, []byte{1, 2, 3}, false)
	require.NoError(t, rb.Insert(rec, 1000))

	_, ok := rb.TryPopNext(10, 1000)
	require.True(t, ok)

	err := rb.Insert(rec, 2000)
	assert.ErrorIs(t, err, ErrDroppedDuplicate)
}

func TestReorderBufferTryPopNextWaitsForExpected(t *testing.T) {
	rb := NewReorderBuffer(8, 5, testReorderWait, zerolog.Nop())
	rec := clonePacketRecord(11, 11, 1760, 1000, []byte{4, 5}, false)
	require.NoError(t, rb.Insert(rec, 1000))

	_, ok := rb.TryPopNext(10, 1000)
	assert.False(t, ok, "expected packet 10 hasn't arrived yet, shouldn't release 11 early")

	_, ok = rb.TryPopNext(10, 1000+testReorderWait.Microseconds())
	assert.True(t, ok, "once the wait elapses, the next held slot should release")
}

func TestReorderBufferOverflowRejectsWhenNotStale(t *testing.T) {
	rb := NewReorderBuffer(2, 5, testReorderWait, zerolog.Nop())
	require.NoError(t, rb.Insert(clonePacketRecord(1, 1, 160, 1000, nil, false), 1000))
	require.NoError(t, rb.Insert(clonePacketRecord(2, 2, 320, 1010, nil, false), 1010))

	err := rb.Insert(clonePacketRecord(3, 3, 480, 1020, nil, false), 1020)
	assert.ErrorIs(t, err, ErrReorderBufferFull)
}

func TestFECRecoversMissingMember(t *testing.T) {
	rb := NewReorderBuffer(32, 4, testReorderWait, zerolog.Nop())

	a := []byte{0x01, 0x02, 0x03, 0x04}
	b := []byte{0x10, 0x20, 0x30, 0x40}
	c := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	missing := []byte{0x55, 0x66, 0x77, 0x88}

	parity := make([]byte, 4)
	for i := range parity {
		parity[i] = a[i] ^ b[i] ^ c[i] ^ missing[i]
	}

	require.NoError(t, rb.Insert(clonePacketRecord(0, 0, 0, 1000, a, false), 1000))
	require.NoError(t, rb.Insert(clonePacketRecord(1, 1, 160, 1010, b, false), 1010))
	require.NoError(t, rb.Insert(clonePacketRecord(3, 3, 480, 1030, c, false), 1030))
	rb.InsertFEC(0, parity)

	recovered, ok := rb.AttemptFECRecovery(2)
	require.True(t, ok)
	assert.Equal(t, missing, recovered)
}

func TestFECCannotRecoverTwoMissingMembers(t *testing.T) {
	rb := NewReorderBuffer(32, 4, testReorderWait, zerolog.Nop())
	a := []byte{0x01, 0x02}
	b := []byte{0x03, 0x04}
	rb.Insert(clonePacketRecord(0, 0, 0, 1000, a, false), 1000)
	rb.Insert(clonePacketRecord(1, 1, 160, 1010, b, false), 1010)
	rb.InsertFEC(0, []byte{0xFF, 0xFF})

	_, ok := rb.AttemptFECRecovery(2)
	assert.False(t, ok, "two missing members in the group means recovery is impossible")
}

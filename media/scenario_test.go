// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"testing"

	"github.com/emiago/rtpvoice/audio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// xorPayloads computes the FEC group's wire parity: the byte-wise XOR of
// every member, zero-padded to the largest member size (spec §4.3).
func xorPayloads(payloads ...[]byte) []byte {
	max := 0
	for _, p := range payloads {
		if len(p) > max {
			max = len(p)
		}
	}
	out := make([]byte, max)
	for _, p := range payloads {
		for i, b := range p {
			out[i] ^= b
		}
	}
	return out
}

// fillPayload returns a frame-sized PCMU payload filled with a distinctive
// byte so two frames are never accidentally byte-identical.
func fillPayload(b byte) []byte {
	p := make([]byte, 160)
	for i := range p {
		p[i] = b
	}
	return p
}

// TestScenarioS1InOrder delivers sequences 1000..1010 at 20ms intervals and
// expects every packet received, no loss, no reordering, and all 11 frames
// played back Decoded (spec §8 S1).
func TestScenarioS1InOrder(t *testing.T) {
	s := OpenSession(zerolog.Nop())
	tuple := testTuple()

	for i := 0; i < 11; i++ {
		buf := marshalRTP(t, 0, uint16(1000+i), uint32(160*i), 1, fillPayload(byte(i)))
		s.OnRTPPacket(int64(i)*20_000, tuple, buf)
	}

	_, handle, ok := s.registry.FindByKey(StreamKey{Tuple: tuple, SSRC: 1, Direction: DirectionIncoming})
	require.True(t, ok)

	out := make([]byte, 4096)
	for i := 0; i < 11; i++ {
		n, kind := s.NextPlayoutFrame(handle, int64(i)*20_000+40_000, out)
		assert.Equal(t, Decoded, kind, "frame %d", i)
		assert.Greater(t, n, 0)
	}

	st, ok := s.Snapshot(handle)
	require.True(t, ok)
	assert.EqualValues(t, 11, st.PacketsReceived)
	assert.EqualValues(t, 0, st.PacketsLost)
	assert.EqualValues(t, 0, st.OutOfOrder)
	assert.Less(t, st.CurrentJitterMs, 1.0)
}

// TestScenarioS2ReorderWithinWindow delivers 2000,2002,2001,2003 and expects
// one out-of-order packet, no loss, and in-sequence playout (spec §8 S2).
func TestScenarioS2ReorderWithinWindow(t *testing.T) {
	s := OpenSession(zerolog.Nop())
	tuple := testTuple()

	// Prime probation on 1998,1999 so the scenario's own packets land
	// post-probation, matching a stream already in steady state.
	s.OnRTPPacket(-40_000, tuple, marshalRTP(t, 0, 1998, 0, 2, fillPayload(0xAA)))
	s.OnRTPPacket(-20_000, tuple, marshalRTP(t, 0, 1999, 160, 2, fillPayload(0xAB)))

	s.OnRTPPacket(0, tuple, marshalRTP(t, 0, 2000, 320, 2, fillPayload(0)))
	s.OnRTPPacket(20_000, tuple, marshalRTP(t, 0, 2002, 640, 2, fillPayload(2)))
	s.OnRTPPacket(40_000, tuple, marshalRTP(t, 0, 2001, 480, 2, fillPayload(1)))
	s.OnRTPPacket(60_000, tuple, marshalRTP(t, 0, 2003, 800, 2, fillPayload(3)))

	_, handle, ok := s.registry.FindByKey(StreamKey{Tuple: tuple, SSRC: 2, Direction: DirectionIncoming})
	require.True(t, ok)

	out := make([]byte, 4096)
	// The two priming packets play out ahead of the scenario's own four, in
	// their original order; the scenario's packets must then play back
	// 2000,2001,2002,2003 regardless of the 2002/2001 wire order.
	wantSeq := []byte{0xAA, 0xAB, 0, 1, 2, 3}
	nowUs := []int64{0, 20_000, 40_000, 80_000, 80_000, 100_000}
	for i, want := range wantSeq {
		n, kind := s.NextPlayoutFrame(handle, nowUs[i], out)
		require.Equal(t, Decoded, kind, "frame %d", i)
		require.Greater(t, n, 0)
		wantPCM := make([]byte, 2*len(fillPayload(want)))
		_, err := audio.DecodeUlawTo(wantPCM, fillPayload(want))
		require.NoError(t, err)
		assert.Equal(t, wantPCM, out[:n], "playout position %d", i)
	}

	st, ok := s.Snapshot(handle)
	require.True(t, ok)
	assert.EqualValues(t, 1, st.OutOfOrder)
	assert.EqualValues(t, 0, st.PacketsLost)
}

// TestScenarioS3Wrap delivers 65534,65535,0,1,2 and expects exactly one
// sequence-number cycle and no reported loss across the wrap (spec §8 S3).
func TestScenarioS3Wrap(t *testing.T) {
	s := OpenSession(zerolog.Nop())
	tuple := testTuple()

	seqs := []uint16{65534, 65535, 0, 1, 2}
	for i, seq := range seqs {
		buf := marshalRTP(t, 0, seq, uint32(160*i), 3, fillPayload(byte(i)))
		outcome := s.OnRTPPacket(int64(i)*20_000, tuple, buf)
		require.Contains(t, []Outcome{Accepted, Recovered}, outcome)
	}

	stream, _, ok := s.registry.FindByKey(StreamKey{Tuple: tuple, SSRC: 3, Direction: DirectionIncoming})
	require.True(t, ok)
	assert.EqualValues(t, 1, stream.seq.cycles)

	st := stream.snapshot()
	assert.EqualValues(t, 0, st.PacketsLost)
}

// TestScenarioS4SingleLossFECRecovers omits 502 from a 500..504 FEC group
// while delivering its parity, and expects XOR recovery to fill the gap
// exactly, with no concealment needed (spec §8 S4).
func TestScenarioS4SingleLossFECRecovers(t *testing.T) {
	s := OpenSession(zerolog.Nop())
	tuple := testTuple()

	payloads := [5][]byte{fillPayload(10), fillPayload(11), fillPayload(12), fillPayload(13), fillPayload(14)}
	parity := xorPayloads(payloads[:]...)

	s.OnRTPPacket(0, tuple, marshalRTP(t, 0, 500, 0, 4, payloads[0]))
	s.OnRTPPacket(20_000, tuple, marshalRTP(t, 0, 501, 160, 4, payloads[1]))
	s.OnRTPPacket(21_000, tuple, marshalRTP(t, 127, 500, 0, 4, parity))
	s.OnRTPPacket(40_000, tuple, marshalRTP(t, 0, 503, 480, 4, payloads[3]))
	s.OnRTPPacket(90_000, tuple, marshalRTP(t, 0, 504, 640, 4, payloads[4]))

	_, handle, ok := s.registry.FindByKey(StreamKey{Tuple: tuple, SSRC: 4, Direction: DirectionIncoming})
	require.True(t, ok)

	out := make([]byte, 4096)
	wantKinds := []FrameKind{Decoded, Decoded, Fec, Decoded, Decoded}
	nowUs := []int64{40_000, 60_000, 60_000, 80_000, 130_000}
	for i, want := range wantKinds {
		n, kind := s.NextPlayoutFrame(handle, nowUs[i], out)
		assert.Equal(t, want, kind, "frame %d", i)
		assert.Greater(t, n, 0, "frame %d", i)
	}

	st, ok := s.Snapshot(handle)
	require.True(t, ok)
	assert.EqualValues(t, 1, st.RecoveredByFEC)
	assert.EqualValues(t, 0, st.ConcealedMs)
	assert.EqualValues(t, 4, st.PacketsReceived)
}

// TestScenarioS5TwoLossesPLCFills omits both 502 and 503 from the same
// group: XOR recovery can no longer resolve either slot, so both must be
// concealed by PLC instead of silently skipped (spec §8 S5).
func TestScenarioS5TwoLossesPLCFills(t *testing.T) {
	s := OpenSession(zerolog.Nop())
	tuple := testTuple()

	payloads := [5][]byte{fillPayload(20), fillPayload(21), fillPayload(22), fillPayload(23), fillPayload(24)}
	parity := xorPayloads(payloads[:]...)

	s.OnRTPPacket(0, tuple, marshalRTP(t, 0, 500, 0, 5, payloads[0]))
	s.OnRTPPacket(20_000, tuple, marshalRTP(t, 0, 501, 160, 5, payloads[1]))
	s.OnRTPPacket(21_000, tuple, marshalRTP(t, 127, 500, 0, 5, parity))
	s.OnRTPPacket(60_000, tuple, marshalRTP(t, 0, 504, 640, 5, payloads[4]))

	_, handle, ok := s.registry.FindByKey(StreamKey{Tuple: tuple, SSRC: 5, Direction: DirectionIncoming})
	require.True(t, ok)

	out := make([]byte, 4096)
	// Two of four expected packets missing lifts the loss rate to 50%, so
	// each tick before the gap is drained grows the jitter delay by 2ms:
	// 504 is inserted at 46ms delay and becomes due at 106ms.
	wantKinds := []FrameKind{Decoded, Decoded, Plc, Plc, Decoded}
	nowUs := []int64{40_000, 60_000, 100_000, 100_000, 120_000}
	for i, want := range wantKinds {
		n, kind := s.NextPlayoutFrame(handle, nowUs[i], out)
		assert.Equal(t, want, kind, "frame %d", i)
		assert.Greater(t, n, 0, "frame %d", i)
	}

	st, ok := s.Snapshot(handle)
	require.True(t, ok)
	assert.EqualValues(t, 0, st.RecoveredByFEC)
	assert.EqualValues(t, 40, st.ConcealedMs)
}

// TestScenarioS6LatePacket delivers 1000 at t=0 and 1001 at t=200ms against
// the default 100ms max_delay: 1001 must be declared late, dropped, and
// concealed rather than played as decoded audio (spec §8 S6).
func TestScenarioS6LatePacket(t *testing.T) {
	s := OpenSession(zerolog.Nop())
	tuple := testTuple()

	s.OnRTPPacket(0, tuple, marshalRTP(t, 0, 1000, 0, 6, fillPayload(1)))
	s.OnRTPPacket(200_000, tuple, marshalRTP(t, 0, 1001, 160, 6, fillPayload(2)))

	_, handle, ok := s.registry.FindByKey(StreamKey{Tuple: tuple, SSRC: 6, Direction: DirectionIncoming})
	require.True(t, ok)

	out := make([]byte, 4096)
	n, kind := s.NextPlayoutFrame(handle, 40_000, out)
	require.Equal(t, Decoded, kind)
	require.Greater(t, n, 0)

	n, kind = s.NextPlayoutFrame(handle, 350_000, out)
	assert.Equal(t, Plc, kind)
	assert.Greater(t, n, 0)

	st, ok := s.Snapshot(handle)
	require.True(t, ok)
	assert.EqualValues(t, 20, st.ConcealedMs)
	assert.EqualValues(t, 1, st.PLCUsed)
}

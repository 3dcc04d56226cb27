// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

// Stats is the stable-named snapshot copied out of a Stream, safe to call
// from any thread (spec §6). Field names match the spec verbatim so a
// downstream renderer (out of this core's scope) can bind to them directly.
type Stats struct {
	PacketsReceived  uint64
	PacketsLost      int64
	OutOfOrder       uint64
	Duplicates       uint64
	RecoveredByFEC   uint64
	ConcealedMs      uint64
	CurrentJitterMs  float64
	MaxJitterMs      float64
	BufferSizeMs     float64
	BufferTargetMs   float64
	PacketLossRate   float64
	CurrentBitrateBps int
	PLCUsed          uint64
	FECUsed          uint64
	LastFrameType    LastFrameType

	JitterSpikes       uint64
	CorrectedTimestamps uint64
}

// FinalStats is delivered by CloseSession: the drained snapshot of every
// stream that existed in the session.
type FinalStats struct {
	Streams map[StreamHandle]Stats
}

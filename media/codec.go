// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import "time"

// CodecKind identifies the payload codec family a payload type is bound to.
// The Codec & PLC Engine (audio package) dispatches on this to pick between
// the G.711 law tables and the Opus engine.
type CodecKind int

const (
	CodecUnknown CodecKind = iota
	CodecPCMU
	CodecPCMA
	CodecG722
	CodecOpus
)

func (k CodecKind) String() string {
	switch k {
	case CodecPCMU:
		return "PCMU"
	case CodecPCMA:
		return "PCMA"
	case CodecG722:
		return "G722"
	case CodecOpus:
		return "Opus"
	default:
		return "Unknown"
	}
}

// Codec describes the negotiated parameters for one payload type, as agreed
// by the external signaling collaborator and handed to OpenSession. The core
// never negotiates these itself (spec §1).
type Codec struct {
	PayloadType uint8
	Kind        CodecKind
	ClockRate   uint32
	Channels    uint8
	SampleDur   time.Duration
}

// SampleTimestamp returns the number of clock ticks one frame (SampleDur) spans.
func (c *Codec) SampleTimestamp() uint32 {
	return uint32(float64(c.ClockRate) * c.SampleDur.Seconds())
}

// Static payload types per RFC 3551 §6; dynamic types (96-127) are bound by
// the session-open event and are not covered here.
var (
	CodecAudioPCMU = Codec{PayloadType: 0, Kind: CodecPCMU, ClockRate: 8000, Channels: 1, SampleDur: 20 * time.Millisecond}
	CodecAudioPCMA = Codec{PayloadType: 8, Kind: CodecPCMA, ClockRate: 8000, Channels: 1, SampleDur: 20 * time.Millisecond}
	CodecAudioG722 = Codec{PayloadType: 9, Kind: CodecG722, ClockRate: 8000, Channels: 1, SampleDur: 20 * time.Millisecond}
)

// PayloadTypeParams is the full per-payload-type parameter set a caller
// supplies via WithPayloadTypeParams when opening a session: clock rate,
// channel count and codec family for a given (possibly dynamic) payload type.
type PayloadTypeParams struct {
	PayloadType uint8
	Kind        CodecKind
	ClockRate   uint32
	Channels    uint8
}

// staticPayloadTypeTable returns the statically-assigned codec for PT 0, 8, 9.
// Dynamic PTs (96-127) must be supplied explicitly by the caller; this table
// never guesses one.
func staticPayloadTypeTable() map[uint8]Codec {
	return map[uint8]Codec{
		0: CodecAudioPCMU,
		8: CodecAudioPCMA,
		9: CodecAudioG722,
	}
}

// CodecFromPayloadType resolves a Codec for pt, consulting dynamic first (as
// supplied by the session's signaling collaborator), falling back to the
// static RFC 3551 table. Returns false if pt is neither.
func CodecFromPayloadType(pt uint8, dynamic map[uint8]Codec) (Codec, bool) {
	if c, ok := dynamic[pt]; ok {
		return c, true
	}
	if c, ok := staticPayloadTypeTable()[pt]; ok {
		return c, true
	}
	return Codec{}, false
}

// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

// PacketRecord is the value type stored in the reorder window and the jitter
// buffer (spec §3 "Packet record"). It owns its payload byte slice; slot
// reuse in the ring transfers ownership by overwrite, never by aliasing a
// pointer back to network-owned memory (spec §9).
type PacketRecord struct {
	Sequence     uint16
	Extended     uint64
	Timestamp    uint32
	ArrivalUs    int64
	Payload      []byte
	IsFEC        bool
	FECRecovered bool

	// PreDecodedPCM holds already-decoded PCM for a record synthesized from
	// the codec's own in-band FEC (spec §4.5 decode path), which recovers
	// audio directly rather than a re-encoded payload — NextPlayoutFrame
	// must skip the normal Decode step for these.
	PreDecodedPCM []byte

	// NeedsPLC marks a placeholder record for a gap neither XOR nor in-band
	// FEC could fill: it carries no payload and PCM, only a position in
	// playout order for concealment to run at (spec §4.5 "no FEC available:
	// invoke PLC").
	NeedsPLC bool

	ScheduledPlayUs int64
}

// clone returns a PacketRecord with its own copy of payload, safe to store
// past the caller's buffer lifetime.
func clonePacketRecord(seq uint16, ext uint64, ts uint32, arrivalUs int64, payload []byte, isFEC bool) PacketRecord {
	owned := make([]byte, len(payload))
	copy(owned, payload)
	return PacketRecord{
		Sequence:  seq,
		Extended:  ext,
		Timestamp: ts,
		ArrivalUs: arrivalUs,
		Payload:   owned,
		IsFEC:     isFEC,
	}
}

// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

// fecGroup tracks the XOR parity payload covering K contiguous media packets
// (spec §3 "FEC group"). Parity is never computed locally: wireParity holds
// the parity packet received on the wire for the group (the first one to
// arrive), and recovery XORs it against the members present.
type fecGroup struct {
	firstSeq   uint16 // sequence of the first media packet in the group
	members    [][]byte
	present    []bool
	count      int
	wireParity []byte
	hasParity  bool
}

func newFECGroup(firstSeq uint16, k int) *fecGroup {
	return &fecGroup{
		firstSeq: firstSeq,
		members:  make([][]byte, k),
		present:  make([]bool, k),
	}
}

// setMember stores a copy of payload at offset i within the group. A member
// already present is kept as it is; the parity is not touched.
func (g *fecGroup) setMember(i int, payload []byte) {
	if g.present[i] {
		return
	}
	owned := make([]byte, len(payload))
	copy(owned, payload)
	g.members[i] = owned
	g.present[i] = true
	g.count++
}

// canRecover returns the single missing member's offset and true if exactly
// one of the K members is absent and recovery is therefore possible.
func (g *fecGroup) canRecover(k int) (int, bool) {
	missing := -1
	missingCount := 0
	for i := 0; i < k; i++ {
		if !g.present[i] {
			missingCount++
			missing = i
		}
	}
	if missingCount != 1 {
		return -1, false
	}
	return missing, true
}

// recover XORs every present member against the stored parity to reconstruct
// the missing payload. The result has the parity frame's length; trailing
// zero padding is not trimmed.
func (g *fecGroup) recover(parityPayload []byte, k int, missing int) []byte {
	out := make([]byte, len(parityPayload))
	copy(out, parityPayload)
	for i := 0; i < k; i++ {
		if i == missing {
			continue
		}
		m := g.members[i]
		for j, b := range m {
			if j < len(out) {
				out[j] ^= b
			}
		}
	}
	return out
}

// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"fmt"

	"github.com/pion/rtp"
)

// minRTPHeaderSize is the fixed 12-byte RTP header (spec §6).
const minRTPHeaderSize = 12

// ParseRTPPacket decodes buf into pkt per RFC 3550's bit layout, applying the
// explicit rejection rules from spec §6: total length must cover the fixed
// header plus CSRC list plus any extension and padding; version must be 2;
// payload type must fit in 7 bits. pion/rtp.Header.Unmarshal already enforces
// the wire bit layout; the checks here make the rejection reasons explicit
// and recoverable as ErrInvalidRTP, never a panic.
func ParseRTPPacket(buf []byte) (rtp.Packet, error) {
	var pkt rtp.Packet

	if len(buf) < minRTPHeaderSize {
		return pkt, fmt.Errorf("%w: length %d below fixed header size", ErrInvalidRTP, len(buf))
	}

	if version := buf[0] >> 6; version != 2 {
		return pkt, fmt.Errorf("%w: version %d", ErrInvalidRTP, version)
	}

	if pt := buf[1] & 0x7f; pt > 127 {
		// unreachable given the 7-bit mask, kept to document the rule explicitly
		return pkt, fmt.Errorf("%w: payload type %d", ErrInvalidRTP, pt)
	}

	if err := pkt.Unmarshal(buf); err != nil {
		return rtp.Packet{}, fmt.Errorf("%w: %v", ErrInvalidRTP, err)
	}

	return pkt, nil
}

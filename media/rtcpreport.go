// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"time"

	"github.com/pion/rtcp"
)

const ntpEpochOffset int64 = 2208988800

// NTPTimestamp converts a wall-clock time to the 64-bit NTP format carried in
// RTCP Sender/Receiver Reports (RFC 3550 §4).
func NTPTimestamp(t time.Time) uint64 {
	seconds := t.Unix() + ntpEpochOffset
	frac := (float64(t.Nanosecond()) / 1e9) * (1 << 32)
	return uint64(seconds)<<32 | uint64(frac)
}

// BuildReceiverReport produces the passive RTCP Receiver Report for one
// stream (spec SUPPLEMENTED FEATURES: this receive-only core never sends
// Sender Reports of its own, but external RTCP plumbing can still relay loss
// and jitter upstream). Grounded on the teacher's RTPSession.parseReceptionReport.
func BuildReceiverReport(s *Stream, reporterSSRC uint32, lastSenderReportNTP uint32, lastSenderReportRecvTime time.Time, now time.Time) rtcp.ReceiverReport {
	s.mu.Lock()
	expected := s.seq.Expected()
	received := s.seq.Received()
	lastSeq := s.seq.maxSeq
	cycles := s.seq.cycles
	jitter := s.seq.jitter
	s.mu.Unlock()

	var fractionLost uint8
	var totalLost uint32
	if expected > received {
		lost := expected - received
		if expected > 0 {
			f := float64(lost) / float64(expected) * 256
			if f > 255 {
				f = 255
			}
			fractionLost = uint8(f)
		}
		if lost > 0xFFFFFFFF {
			lost = 0xFFFFFFFF
		}
		totalLost = uint32(lost)
	}

	var delay uint32
	if !lastSenderReportRecvTime.IsZero() {
		d := now.Sub(lastSenderReportRecvTime)
		delay = uint32(d.Seconds() * 65536)
	}

	rr := rtcp.ReceptionReport{
		SSRC:               s.Key.SSRC,
		FractionLost:       fractionLost,
		TotalLost:          totalLost,
		LastSequenceNumber: cycles<<16 | uint32(lastSeq),
		Jitter:             uint32(jitter),
		LastSenderReport:   lastSenderReportNTP,
		Delay:              delay,
	}

	return rtcp.ReceiverReport{
		SSRC:    reporterSSRC,
		Reports: []rtcp.ReceptionReport{rr},
	}
}

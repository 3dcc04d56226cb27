// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

// SequenceMachine implements the RFC-3550-style sequence/timestamp state
// machine of spec §4.2: probation, extended sequence tracking with wrap
// detection, loss accounting and jitter estimation. It is embedded in Stream
// and is never accessed concurrently (spec §5).
type SequenceMachine struct {
	ClockRate uint32

	baseSeq uint16
	maxSeq  uint16
	cycles  uint32
	badSeq  uint16

	probation int
	received  uint64

	lastRTPTs     uint32
	lastArrivalUs int64
	haveLast      bool
	lastTransit   int64

	jitter           float64
	smoothedJitterMs float64
}

const (
	// MinSequential is the number of strictly sequential packets a fresh
	// source must present before it is trusted (spec §4.2 "Probation").
	MinSequential = 2
	// MaxDropout bounds the forward gap treated as an in-order advance.
	MaxDropout uint16 = 3000
	// MaxMisorder bounds the backward window treated as reordering rather
	// than a source restart.
	MaxMisorder uint16 = 100
)

// SeqKind classifies what a SequenceMachine.Update call decided about a packet.
type SeqKind int

const (
	SeqInOrder SeqKind = iota
	SeqOutOfOrder
	SeqRestart
	SeqStale
	SeqProbation
)

// SeqUpdateResult carries the sequencing and jitter outcome for one packet.
type SeqUpdateResult struct {
	Kind               SeqKind
	Extended           uint64
	RTPTimestamp       uint32 // possibly corrected per the timestamp-sanity check
	CorrectedTimestamp bool
	JitterMs           float64
	JitterSpike        bool
}

// NewSequenceMachine creates a fresh machine, starting in probation per
// spec §4.2: "A freshly created Stream begins with probation = MIN_SEQUENTIAL".
func NewSequenceMachine(clockRate uint32) *SequenceMachine {
	return &SequenceMachine{
		ClockRate: clockRate,
		probation: MinSequential,
		badSeq:    maxSeqSentinel,
	}
}

const maxSeqSentinel uint16 = 1<<16 - 1

// ReadExtendedSeq returns cycles*65536 + maxSeq, the monotone extended
// sequence counter (spec GLOSSARY "Extended sequence").
func (m *SequenceMachine) ReadExtendedSeq() uint64 {
	return uint64(m.cycles)<<16 | uint64(m.maxSeq)
}

// Update validates seq/rtpTs/arrival against RFC 3550 semantics and updates
// jitter. arrivalUs is a monotonic microsecond timestamp (spec §6).
func (m *SequenceMachine) Update(seq uint16, rtpTs uint32, arrivalUs int64) SeqUpdateResult {
	if m.probation > 0 {
		return m.updateProbation(seq, rtpTs, arrivalUs)
	}

	udelta := seq - m.maxSeq

	switch {
	case udelta < MaxDropout:
		if seq < m.maxSeq {
			m.cycles++
		}
		m.maxSeq = seq
		return m.acceptInOrder(seq, rtpTs, arrivalUs)

	case udelta > maxSeqSentinel-MaxMisorder:
		// Small backward window: reordering, not a restart. max_seq is left
		// untouched per spec §4.2. RFC 3550 A.1 update_seq() falls through to
		// received++ for this case too — a reordered packet still arrived, it
		// just wasn't next, and loss accounting must not count it as missing.
		res := m.jitterOnly(rtpTs, arrivalUs)
		res.Kind = SeqOutOfOrder
		res.Extended = uint64(m.cycles)<<16 | uint64(seq)
		m.received++
		return res

	default:
		// Large jump.
		if seq == m.badSeq {
			m.baseSeq = seq
			m.maxSeq = seq
			m.cycles = 0
			m.received = 1
			m.haveLast = false
			res := m.jitterOnly(rtpTs, arrivalUs)
			res.Kind = SeqRestart
			res.Extended = uint64(seq)
			return res
		}
		m.badSeq = seq + 1
		return SeqUpdateResult{Kind: SeqStale, RTPTimestamp: rtpTs}
	}
}

// updateProbation implements spec §4.2's probation handling: in-order
// packets decrement probation; any mismatch resets it to MinSequential-1 and
// adopts the new sequence as max_seq (the documented open question:
// max_seq is adopted on backward jumps during probation too).
func (m *SequenceMachine) updateProbation(seq uint16, rtpTs uint32, arrivalUs int64) SeqUpdateResult {
	if m.received == 0 && m.probation == MinSequential {
		// very first packet seen: seed state, no comparison possible yet
		m.maxSeq = seq
		m.probation--
		res := m.jitterOnly(rtpTs, arrivalUs)
		res.Kind = SeqProbation
		res.Extended = uint64(seq)
		return res
	}

	if seq == m.maxSeq+1 {
		m.maxSeq = seq
		m.probation--
	} else {
		m.probation = MinSequential - 1
		m.maxSeq = seq
	}
	res := m.jitterOnly(rtpTs, arrivalUs)

	if m.probation <= 0 {
		m.baseSeq = m.maxSeq
		// RFC 3550 A.1 init_seq() is immediately followed by received++: the
		// packet that establishes base_seq counts as received too, or
		// expected-received never stops reporting one phantom lost packet.
		m.received = 1
		m.cycles = 0
		res.Kind = SeqInOrder
		res.Extended = uint64(m.maxSeq)
		return res
	}
	res.Kind = SeqProbation
	res.Extended = uint64(seq)
	return res
}

func (m *SequenceMachine) acceptInOrder(seq uint16, rtpTs uint32, arrivalUs int64) SeqUpdateResult {
	res := m.jitterOnly(rtpTs, arrivalUs)
	res.Kind = SeqInOrder
	res.Extended = uint64(m.cycles)<<16 | uint64(seq)
	m.received++
	return res
}

// Expected returns the extended count of packets that should have arrived
// since base_seq, per spec §4.2's loss accounting: expected =
// cycles*65536 + max_seq - base_seq + 1.
func (m *SequenceMachine) Expected() uint64 {
	return uint64(m.cycles)<<16 + uint64(m.maxSeq) - uint64(m.baseSeq) + 1
}

func (m *SequenceMachine) Received() uint64 { return m.received }

// jitterOnly performs the timestamp-sanity correction and jitter EWMA update
// shared by every packet classification except stale drops (spec §4.2).
func (m *SequenceMachine) jitterOnly(rtpTs uint32, arrivalUs int64) SeqUpdateResult {
	correctedTs := rtpTs
	corrected := false

	if m.haveLast && m.ClockRate > 0 {
		arrivalDeltaUs := arrivalUs - m.lastArrivalUs
		expectedTs := m.lastRTPTs + uint32(int64(m.ClockRate)*arrivalDeltaUs/1_000_000)
		diff := int64(int32(rtpTs - expectedTs))
		if diff < 0 {
			diff = -diff
		}
		window := int64(m.ClockRate) / 100 // ~10ms
		if window <= 0 {
			window = 1
		}
		if diff > window {
			framePeriod := int64(m.ClockRate) / 50 // 20ms
			if framePeriod <= 0 {
				framePeriod = 1
			}
			remainder := diff % framePeriod
			aligned := remainder <= window || framePeriod-remainder <= window
			if !aligned {
				correctedTs = expectedTs
				corrected = true
			}
		}
	}

	var jitterMs float64
	var spike bool
	if m.haveLast && m.ClockRate > 0 {
		arrivalTicks := arrivalUs * int64(m.ClockRate) / 1_000_000
		transit := arrivalTicks - int64(correctedTs)
		d := transit - m.lastTransit
		if d < 0 {
			d = -d
		}
		m.jitter += (float64(d) - m.jitter) / 16
		m.lastTransit = transit
		jitterMs = m.jitter / float64(m.ClockRate) * 1000
		spike = float64(d) > float64(m.ClockRate)/100
		m.smoothedJitterMs += (jitterMs - m.smoothedJitterMs) / 8
	} else if m.ClockRate > 0 {
		arrivalTicks := arrivalUs * int64(m.ClockRate) / 1_000_000
		m.lastTransit = arrivalTicks - int64(correctedTs)
	}

	m.lastRTPTs = correctedTs
	m.lastArrivalUs = arrivalUs
	m.haveLast = true

	return SeqUpdateResult{
		RTPTimestamp:       correctedTs,
		CorrectedTimestamp: corrected,
		JitterMs:           jitterMs,
		JitterSpike:        spike,
	}
}

// ExtendForSeq maps a raw 16-bit sequence number (e.g. from an FEC parity
// packet that never passes through Update) into the same extended-sequence
// space as media packets, using the machine's current wrap count. It never
// mutates state.
func (m *SequenceMachine) ExtendForSeq(seq uint16) uint64 {
	cycles := m.cycles
	if m.maxSeq-seq > 1<<15 {
		cycles++
	} else if seq-m.maxSeq > 1<<15 && cycles > 0 {
		cycles--
	}
	return uint64(cycles)<<16 | uint64(seq)
}

// SmoothedJitterMs is the §4.4 buffer-sizing EWMA (gain 1/8), distinct from
// the raw RFC 3550 jitter estimate used for reporting.
func (m *SequenceMachine) SmoothedJitterMs() float64 { return m.smoothedJitterMs }

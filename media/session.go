// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"errors"
	"net"

	"github.com/emiago/rtpvoice/audio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionHandle is the opaque value open_session returns (spec §6). It
// carries no meaning beyond identity — callers never parse it.
type SessionHandle string

// Session is the single entry point a signaling collaborator drives: one
// Registry of Streams plus the config they all share.
type Session struct {
	handle SessionHandle
	cfg    SessionConfig
	log    zerolog.Logger

	registry *Registry

	closed bool
}

// OpenSession allocates a Session per spec §6. opts layer onto
// DefaultSessionConfig in order.
func OpenSession(log zerolog.Logger, opts ...SessionOption) *Session {
	cfg := DefaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	h := SessionHandle(uuid.New().String())
	sessLog := log.With().Str("session", string(h)).Logger()

	return &Session{
		handle:   h,
		cfg:      cfg,
		log:      sessLog,
		registry: NewRegistry(cfg, sessLog),
	}
}

func (s *Session) Handle() SessionHandle { return s.handle }

// OnRTPPacket is spec §6's non-blocking data-path entry: parse, classify,
// and file the wire bytes exactly once, never raising past this call (spec
// §7's exception-free data path). tuple's addresses are normalized
// (NAT64/IPv4-in-IPv6 collapsed) before they participate in the Stream key.
func (s *Session) OnRTPPacket(arrivalUs int64, tuple FiveTuple, payload []byte) Outcome {
	if s.closed {
		return Failed
	}

	pkt, err := ParseRTPPacket(payload)
	if err != nil {
		return Failed
	}

	if ip := net.ParseIP(tuple.RemoteAddr); ip != nil {
		tuple.RemoteAddr = normalizeAddr(ip)
	}
	if ip := net.ParseIP(tuple.LocalAddr); ip != nil {
		tuple.LocalAddr = normalizeAddr(ip)
	}
	key := StreamKey{Tuple: tuple, SSRC: pkt.SSRC, Direction: DirectionIncoming}

	if pkt.PayloadType == s.cfg.FECPayloadType {
		return s.onFEC(key, pkt.SequenceNumber, pkt.Payload)
	}

	codec, ok := CodecFromPayloadType(pkt.PayloadType, s.cfg.DynamicPayloadTypes)
	if !ok {
		return Failed
	}

	stream, _, err := s.registry.FindOrCreate(key, codec)
	if err != nil {
		return Failed
	}
	if stream.state == StreamFailed {
		return Failed
	}

	stream.touch(arrivalUs)
	stream.addCounters(func(st *Stats) { st.PacketsReceived++ })

	res := stream.seq.Update(pkt.SequenceNumber, pkt.Timestamp, arrivalUs)

	switch res.Kind {
	case SeqStale:
		return DroppedStaleOutcome

	case SeqRestart:
		stream.reorder.Prune(^uint64(0))
		stream.haveExpected = false
		stream.haveLastRelease = false
		fallthrough
	case SeqInOrder, SeqOutOfOrder, SeqProbation:
		// A probation packet still occupies its rightful position in
		// playout order once the stream is trusted; only its statistics are
		// withheld (spec §4.2 "no statistics until probation ends").
		rec := clonePacketRecord(pkt.SequenceNumber, res.Extended, res.RTPTimestamp, arrivalUs, pkt.Payload, false)
		if insErr := stream.reorder.Insert(rec, arrivalUs); insErr != nil {
			if insErr == ErrDroppedDuplicate {
				stream.addCounters(func(st *Stats) { st.Duplicates++ })
				return DroppedDuplicateOutcome
			}
			return Failed
		}

		stream.reorder.Prune(res.Extended)

		stream.addCounters(func(st *Stats) {
			if res.Kind == SeqProbation {
				return
			}
			if res.Kind == SeqOutOfOrder {
				st.OutOfOrder++
			}
			if res.CorrectedTimestamp {
				st.CorrectedTimestamps++
			}
			if res.JitterSpike {
				st.JitterSpikes++
			}
		})

		recovered := s.drainToJitter(stream, arrivalUs)

		switch {
		case res.Kind == SeqProbation:
			return Accepted
		case recovered:
			return Recovered
		case res.Kind == SeqOutOfOrder:
			return OutOfOrderBuffered
		default:
			return Accepted
		}
	}

	return Accepted
}

// nextReleaseUs folds candidateUs into the stream's running release clock:
// every record handed to the jitter buffer gets a time no earlier than the
// one before it, so playout order always matches the order drainToJitter
// discovered the records in — even when a held reordered packet's own true
// arrival time predates the gap-filler that unblocked it (spec §4.3
// "Ordering guarantee").
func nextReleaseUs(stream *Stream, candidateUs int64) int64 {
	if stream.haveLastRelease && candidateUs < stream.lastReleaseUs {
		candidateUs = stream.lastReleaseUs
	}
	stream.lastReleaseUs = candidateUs
	stream.haveLastRelease = true
	return candidateUs
}

// drainToJitter moves every reorder-buffer slot that is now ready for
// playout into the jitter buffer, in expected-sequence order. A gap it steps
// over is first offered to XOR recovery, then to the codec's own in-band
// FEC; whatever neither can reconstruct gets a PLC placeholder instead of
// being silently skipped (spec §4.3, §4.5). Every record inserted, whether
// genuinely reordered, FEC-recovered, or PLC-concealed, passes through
// nextReleaseUs first, so the jitter buffer's ordering always matches the
// sequence order this loop already discovered. Reports whether any FEC
// recovery happened during this drain.
func (s *Session) drainToJitter(stream *Stream, nowUs int64) bool {
	if !stream.haveExpected {
		lowest, ok := stream.reorder.LowestPending()
		if !ok {
			return false
		}
		stream.expectedNext = lowest
		stream.haveExpected = true
	}

	frameTicks := stream.Codec.SampleTimestamp()
	frameDurUs := stream.Codec.SampleDur.Microseconds()

	recoveredAny := false
	for {
		rec, ok := stream.reorder.TryPopNext(stream.expectedNext, nowUs)
		if !ok {
			return recoveredAny
		}

		for missing := stream.expectedNext; missing < rec.Extended; missing++ {
			back := rec.Extended - missing
			recTs := rec.Timestamp - uint32(back)*frameTicks
			recArrivalUs := rec.ArrivalUs - int64(back)*frameDurUs

			if payload, recovered := stream.reorder.AttemptFECRecovery(missing); recovered {
				fecRec := clonePacketRecord(uint16(missing), missing, recTs, recArrivalUs, payload, false)
				fecRec.FECRecovered = true
				stream.reorder.MarkMissingDelivered(missing)
				stream.jitter.Insert(fecRec, nextReleaseUs(stream, recArrivalUs))
				stream.addCounters(func(st *Stats) { st.RecoveredByFEC++; st.FECUsed++ })
				recoveredAny = true
				continue
			}

			// No XOR parity for this slot's group. If the codec carries
			// in-band FEC (Opus), the packet immediately following the gap
			// encodes enough to recover the one frame right before it (spec
			// §4.5 decode path: "missing packet with in-band FEC available
			// in the next packet").
			if back == 1 {
				if pcm, ok := stream.codec.DecodeFEC(rec.Payload); ok {
					fecRec := clonePacketRecord(uint16(missing), missing, recTs, recArrivalUs, nil, false)
					fecRec.FECRecovered = true
					fecRec.PreDecodedPCM = pcm
					stream.reorder.MarkMissingDelivered(missing)
					stream.jitter.Insert(fecRec, nextReleaseUs(stream, recArrivalUs))
					stream.addCounters(func(st *Stats) { st.RecoveredByFEC++; st.FECUsed++ })
					recoveredAny = true
					continue
				}
			}

			plcRec := clonePacketRecord(uint16(missing), missing, recTs, recArrivalUs, nil, false)
			plcRec.NeedsPLC = true
			stream.reorder.MarkMissingDelivered(missing)
			stream.jitter.Insert(plcRec, nextReleaseUs(stream, recArrivalUs))
		}

		stream.jitter.Insert(rec, nextReleaseUs(stream, rec.ArrivalUs))
		stream.expectedNext = rec.Extended + 1
	}
}

// onFEC routes a parity packet to its group without ever originating a new
// Stream (spec §4.3: FEC packets are meaningless without a media stream
// already established on the same five-tuple/SSRC).
func (s *Session) onFEC(key StreamKey, seq uint16, payload []byte) Outcome {
	stream, _, ok := s.registry.FindByKey(key)
	if !ok {
		return Accepted
	}
	groupExt := stream.seq.ExtendForSeq(seq)
	stream.reorder.InsertFEC(groupExt, payload)
	return Accepted
}

// NextPlayoutFrame pulls the next due packet from the jitter buffer and
// decodes it, falling back to FEC recovery then PLC synthesis when the
// expected packet is missing (spec §6, §4.4, §4.5).
func (s *Session) NextPlayoutFrame(handle StreamHandle, nowUs int64, out []byte) (int, FrameKind) {
	stream, ok := s.registry.Get(handle)
	if !ok || stream.state == StreamFailed {
		return 0, NotReady
	}

	stream.jitter.Adapt(stream.seq.SmoothedJitterMs(), stream.lossRate())

	// A playout tick is also a chance to force the reorder buffer's hand:
	// MAX_REORDER_WAIT_MS is measured against wall-clock time, not against
	// the next packet's arrival, so a trailing gap must be able to resolve
	// even when nothing else ever arrives for this stream.
	s.drainToJitter(stream, nowUs)

	rec, popRes := stream.jitter.TryPop(nowUs)
	switch popRes {
	case PopNotReady:
		return 0, NotReady

	case PopLate:
		return s.concealFrame(stream, out)

	case PopReady:
		if rec.NeedsPLC {
			return s.concealFrame(stream, out)
		}

		if rec.PreDecodedPCM != nil {
			n := copy(out, rec.PreDecodedPCM)
			stream.addCounters(func(st *Stats) { st.LastFrameType = FrameVoice })
			return n, Fec
		}

		pcm, err := stream.codec.Decode(rec.Payload)
		if err != nil {
			if errors.Is(err, audio.ErrEngineFailed) {
				stream.markFailed()
			}
			return s.concealFrame(stream, out)
		}
		stream.addCounters(func(st *Stats) {
			if stream.codec.IsSilence(pcm) {
				st.LastFrameType = FrameDtx
			} else {
				st.LastFrameType = FrameVoice
			}
		})
		n := copy(out, pcm)
		if rec.FECRecovered {
			return n, Fec
		}
		return n, Decoded
	}
	return 0, NotReady
}

func (s *Session) concealFrame(stream *Stream, out []byte) (int, FrameKind) {
	pcm := stream.codec.Conceal()
	stream.addCounters(func(st *Stats) {
		st.PLCUsed++
		st.ConcealedMs += uint64(stream.Codec.SampleDur.Milliseconds())
		st.LastFrameType = FrameComfortNoise
	})
	n := copy(out, pcm)
	return n, Plc
}

// Sweep evicts streams idle beyond RTPTimeout (spec §5), intended to be
// driven by the caller's own periodic tick — this core never starts a timer.
func (s *Session) Sweep(nowUs int64) []StreamHandle {
	return s.registry.Sweep(nowUs)
}

// Snapshot copies one stream's counters, safe from any thread (spec §6).
func (s *Session) Snapshot(handle StreamHandle) (Stats, bool) {
	stream, ok := s.registry.Get(handle)
	if !ok {
		return Stats{}, false
	}
	return stream.snapshot(), true
}

// CloseSession drains final stats for every live stream, returns each
// stream to StreamUninitialized and removes it from the registry, and marks
// the session closed to further packets.
func (s *Session) CloseSession() FinalStats {
	s.closed = true
	final := s.registry.Snapshot()
	for h := range final.Streams {
		if stream, ok := s.registry.Get(h); ok {
			stream.mu.Lock()
			stream.state = StreamUninitialized
			stream.mu.Unlock()
		}
		s.registry.Remove(h)
	}
	return final
}

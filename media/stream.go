// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"net"
	"sync"
	"time"

	"github.com/emiago/rtpvoice/audio"
	"github.com/rs/zerolog"
)

// StreamHandle is an opaque index into the Registry's stream table. It is
// never a pointer — the Registry owns every Stream exclusively (spec §9
// "cyclic ownership avoided").
type StreamHandle uint64

// StreamState tracks the codec-side lifecycle of spec §4.5's last paragraph:
// Uninitialized -> Ready on session open, -> Failed on any allocation or
// configuration error (after which the Stream rejects new packets), ->
// Uninitialized again (freed) on session close.
type StreamState int

const (
	StreamUninitialized StreamState = iota
	StreamReady
	StreamFailed
)

// FiveTuple identifies a flow's network endpoints. Addresses are normalized
// (NAT64/IPv4-in-IPv6 forms collapsed to IPv4) before keying, per spec §4.1.
type FiveTuple struct {
	LocalAddr  string
	LocalPort  int
	RemoteAddr string
	RemotePort int
}

func normalizeAddr(a net.IP) string {
	if v4 := a.To4(); v4 != nil {
		return v4.String()
	}
	// NAT64 well-known prefix 64:ff9b::/96 (RFC 6052) carries the IPv4
	// address in its last four bytes.
	nat64 := net.IPNet{IP: net.ParseIP("64:ff9b::"), Mask: net.CIDRMask(96, 128)}
	if nat64.Contains(a) {
		return net.IP(a.To16()[12:16]).String()
	}
	return a.String()
}

// StreamKey is the Registry's lookup key (spec §4.1): five tuple + SSRC +
// direction.
type StreamKey struct {
	Tuple     FiveTuple
	SSRC      uint32
	Direction Direction
}

// Stream is the per-flow state record of spec §3. It is owned exclusively by
// the Registry and, within a single arrival/playout cycle, by at most one
// task (spec §5) — only the counters exposed through Snapshot are protected
// by a mutex so Stats can be read from any thread.
type Stream struct {
	Key StreamKey

	PayloadType uint8
	ClockRate   uint32
	Codec       Codec

	seq *SequenceMachine

	reorder *ReorderBuffer
	jitter  *JitterBuffer
	codec   *audio.CodecEngine

	state StreamState

	lastArrivalUs   int64
	lastDeliveredTs uint32

	expectedNext uint64
	haveExpected bool

	lastReleaseUs   int64
	haveLastRelease bool

	cfg SessionConfig

	mu     sync.Mutex
	stats  Stats

	log zerolog.Logger
}

func newStream(key StreamKey, codec Codec, cfg SessionConfig, log zerolog.Logger) (*Stream, error) {
	eng, err := audio.NewCodecEngine(audio.EngineConfig{
		Kind:          audio.CodecKindFromMedia(int(codec.Kind)),
		ClockRate:     codec.ClockRate,
		Channels:      int(codec.Channels),
		FrameDur:      codec.SampleDur,
		PLCMode:       audio.PLCMode(cfg.PLCMode),
		MinBitrateBps: cfg.MinBitrateBps,
		MaxBitrateBps: cfg.MaxBitrateBps,
	})
	if err != nil {
		return nil, err
	}

	s := &Stream{
		Key:         key,
		PayloadType: codec.PayloadType,
		ClockRate:   codec.ClockRate,
		Codec:       codec,
		seq:         NewSequenceMachine(codec.ClockRate),
		reorder:     NewReorderBuffer(cfg.ReorderWindow, cfg.FECGroupSize, cfg.MaxReorderWait, log),
		jitter:      NewJitterBuffer(cfg.JitterBufferSize, cfg.JitterMinDelay, cfg.JitterBaseDelay, cfg.JitterMaxDelay, cfg.JitterFactor),
		codec:       eng,
		state:       StreamReady,
		cfg:         cfg,
		log:         log,
	}
	return s, nil
}

// touch records arrival activity for the inactivity sweep (spec §5
// RTP_TIMEOUT).
func (s *Stream) touch(arrivalUs int64) {
	s.lastArrivalUs = arrivalUs
}

func (s *Stream) idleSince(nowUs int64, timeout time.Duration) bool {
	if s.lastArrivalUs == 0 {
		return false
	}
	return time.Duration(nowUs-s.lastArrivalUs)*time.Microsecond > timeout
}

// snapshot copies the current counters under lock, satisfying spec §6's
// "safe to call from any thread".
func (s *Stream) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	// st.PacketsReceived is its own cumulative counter (incremented in
	// Session.OnRTPPacket for every media packet that arrives), not the RFC
	// 3550 received-since-base_seq count used for loss accounting below —
	// the two diverge during probation and across a restart.
	expected := s.seq.Expected()
	received := s.seq.Received()
	if expected >= received {
		st.PacketsLost = int64(expected - received)
	}
	st.CurrentJitterMs = s.seq.jitter / float64(s.ClockRate) * 1000
	if st.CurrentJitterMs > st.MaxJitterMs {
		st.MaxJitterMs = st.CurrentJitterMs
	}
	st.BufferSizeMs = s.jitter.CurrentDelayMs()
	st.BufferTargetMs = s.jitter.TargetDelayMs()
	if expected > 0 {
		st.PacketLossRate = float64(st.PacketsLost) / float64(expected)
	}
	st.CurrentBitrateBps = s.codec.CurrentBitrateBps()
	return st
}

// lossRate reports the current expected-vs-received loss fraction, the
// signal the Adaptive Jitter Buffer widens its target delay on (spec §4.4).
func (s *Stream) lossRate() float64 {
	expected := s.seq.Expected()
	received := s.seq.Received()
	if expected == 0 || expected < received {
		return 0
	}
	return float64(expected-received) / float64(expected)
}

// markFailed transitions the stream to Failed (spec §4.5): it stops
// accepting new packets and playout for good, surfaced back as Failed.
func (s *Stream) markFailed() {
	s.mu.Lock()
	s.state = StreamFailed
	s.mu.Unlock()
}

func (s *Stream) addCounters(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	if s.stats.CurrentJitterMs > s.stats.MaxJitterMs {
		s.stats.MaxJitterMs = s.stats.CurrentJitterMs
	}
	s.mu.Unlock()
}

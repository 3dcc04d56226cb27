// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import "time"

// Direction distinguishes a stream carrying packets toward us from one we
// send, per spec §3 Stream identity.
type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// PLCMode selects which of the four concealment strategies the Codec & PLC
// Engine runs (spec §4.5).
type PLCMode int

const (
	PLCSilence PLCMode = iota
	PLCRepeat
	PLCPattern
	PLCAdvanced
)

func (m PLCMode) String() string {
	switch m {
	case PLCRepeat:
		return "repeat"
	case PLCPattern:
		return "pattern"
	case PLCAdvanced:
		return "advanced"
	default:
		return "silence"
	}
}

// SessionConfig holds every open_session parameter named in spec §6. It is
// built exclusively through the With* functional options, mirroring the
// teacher's DiagoOption pattern — no file or environment based config exists
// anywhere in this module.
type SessionConfig struct {
	MaxStreams int

	ReorderWindow    int
	FECGroupSize     int
	FECPayloadType   uint8
	MaxReorderWait   time.Duration

	JitterMinDelay   time.Duration
	JitterBaseDelay  time.Duration
	JitterMaxDelay   time.Duration
	JitterFactor     float64
	JitterBufferSize int

	PLCMode       PLCMode
	MinBitrateBps int
	MaxBitrateBps int

	DynamicPayloadTypes map[uint8]Codec

	RTPTimeout time.Duration
}

// SessionOption configures a SessionConfig at OpenSession time.
type SessionOption func(*SessionConfig)

// DefaultSessionConfig returns the spec's documented defaults (§3, §4.3,
// §4.4, §4.5, §5): W=128, K=5, reorder wait 40ms, jitter bounds
// [20ms,100ms] base 40ms factor 1.5, J=1000, bitrate [6kbps,64kbps],
// RTP_TIMEOUT 30s.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxStreams:       32,
		ReorderWindow:    128,
		FECGroupSize:     5,
		FECPayloadType:   127,
		MaxReorderWait:   40 * time.Millisecond,
		JitterMinDelay:   20 * time.Millisecond,
		JitterBaseDelay:  40 * time.Millisecond,
		JitterMaxDelay:   100 * time.Millisecond,
		JitterFactor:     1.5,
		JitterBufferSize: 1000,
		PLCMode:          PLCAdvanced,
		MinBitrateBps:    6000,
		MaxBitrateBps:    64000,
		RTPTimeout:       30 * time.Second,
	}
}

func WithMaxStreams(n int) SessionOption {
	return func(c *SessionConfig) { c.MaxStreams = n }
}

func WithReorderWindow(w int) SessionOption {
	return func(c *SessionConfig) { c.ReorderWindow = w }
}

func WithFECGroupSize(k int, fecPayloadType uint8) SessionOption {
	return func(c *SessionConfig) {
		c.FECGroupSize = k
		c.FECPayloadType = fecPayloadType
	}
}

func WithMaxReorderWait(d time.Duration) SessionOption {
	return func(c *SessionConfig) { c.MaxReorderWait = d }
}

func WithJitterBounds(min, base, max time.Duration, factor float64) SessionOption {
	return func(c *SessionConfig) {
		c.JitterMinDelay = min
		c.JitterBaseDelay = base
		c.JitterMaxDelay = max
		c.JitterFactor = factor
	}
}

func WithJitterBufferSize(n int) SessionOption {
	return func(c *SessionConfig) { c.JitterBufferSize = n }
}

func WithPLCMode(mode PLCMode) SessionOption {
	return func(c *SessionConfig) { c.PLCMode = mode }
}

func WithBitrateBounds(minBps, maxBps int) SessionOption {
	return func(c *SessionConfig) {
		c.MinBitrateBps = minBps
		c.MaxBitrateBps = maxBps
	}
}

func WithPayloadTypeParams(params ...PayloadTypeParams) SessionOption {
	return func(c *SessionConfig) {
		if c.DynamicPayloadTypes == nil {
			c.DynamicPayloadTypes = make(map[uint8]Codec)
		}
		for _, p := range params {
			c.DynamicPayloadTypes[p.PayloadType] = Codec{
				PayloadType: p.PayloadType,
				Kind:        p.Kind,
				ClockRate:   p.ClockRate,
				Channels:    p.Channels,
				SampleDur:   20 * time.Millisecond,
			}
		}
	}
}

func WithRTPTimeout(d time.Duration) SessionOption {
	return func(c *SessionConfig) { c.RTPTimeout = d }
}

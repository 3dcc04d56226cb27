// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"errors"
	"fmt"
	"time"
)

// CodecKind mirrors media.CodecKind without importing it (media imports
// audio, not the other way around).
type CodecKind int

const (
	CodecUnknown CodecKind = iota
	CodecPCMU
	CodecPCMA
	CodecG722
	CodecOpus
)

// CodecKindFromMedia converts the int value of a media.CodecKind into the
// audio package's own enum.
func CodecKindFromMedia(v int) CodecKind {
	switch v {
	case 1:
		return CodecPCMU
	case 2:
		return CodecPCMA
	case 3:
		return CodecG722
	case 4:
		return CodecOpus
	default:
		return CodecUnknown
	}
}

// PLCMode mirrors media.PLCMode.
type PLCMode int

const (
	PLCSilence PLCMode = iota
	PLCRepeat
	PLCPattern
	PLCAdvanced
)

// EngineState is the §4.5 codec lifecycle: Uninitialized -> Ready on
// successful allocation, -> Failed when a Decode call fails thereafter.
type EngineState int

const (
	EngineUninitialized EngineState = iota
	EngineReady
	EngineFailed
)

var (
	ErrUnsupportedCodec = errors.New("audio: unsupported codec kind")
	ErrEngineFailed     = errors.New("audio: codec engine is in failed state")
)

// EngineConfig carries the negotiated codec parameters a Stream hands the
// Codec & PLC Engine at open_session time (spec §4.5, §6).
type EngineConfig struct {
	Kind      CodecKind
	ClockRate uint32
	Channels  int
	FrameDur  time.Duration

	PLCMode PLCMode

	MinBitrateBps int
	MaxBitrateBps int
}

// CodecEngine wraps the negotiated payload codec plus the concealment and
// voice-activity logic that sits in front of it (spec §4.5). One instance is
// owned by exactly one Stream.
type CodecEngine struct {
	cfg   EngineConfig
	state EngineState

	opusEnc *OpusEncoder
	opusDec *OpusDecoder

	frameSamples int
	lastGoodPCM  []byte

	concealer *concealer
	vad       *voiceActivityDetector

	currentBitrateBps int
	consecutiveLoss   int
}

// NewCodecEngine allocates the codec backing a Stream's PayloadType. Opus
// gets a real encoder/decoder pair (in-band FEC and DTX enabled per spec
// §4.5); G.711 PCMU/PCMA decode through the zaf/g711 lookup tables in
// g711.go and need no persistent state.
func NewCodecEngine(cfg EngineConfig) (*CodecEngine, error) {
	e := &CodecEngine{
		cfg:               cfg,
		currentBitrateBps: cfg.MaxBitrateBps,
		concealer:         newConcealer(PLCMode(cfg.PLCMode), int(cfg.ClockRate), cfg.Channels),
		vad:               newVoiceActivityDetector(int(cfg.ClockRate)),
	}

	e.frameSamples = int(float64(cfg.ClockRate) * cfg.FrameDur.Seconds()) * max(cfg.Channels, 1)

	switch cfg.Kind {
	case CodecOpus:
		enc, err := newOpusEncoder(int(cfg.ClockRate), cfg.Channels, e.frameSamples)
		if err != nil {
			e.state = EngineFailed
			return nil, fmt.Errorf("audio: opus encoder init: %w", err)
		}
		dec, err := newOpusDecoder(int(cfg.ClockRate), cfg.Channels, e.frameSamples)
		if err != nil {
			e.state = EngineFailed
			return nil, fmt.Errorf("audio: opus decoder init: %w", err)
		}
		e.opusEnc = enc
		e.opusDec = dec
	case CodecPCMU, CodecPCMA, CodecG722:
		// zaf/g711 frame codecs carry no persistent encoder/decoder state.
		// G.722 is accepted here, but Decode and Encode reject it with
		// ErrUnsupportedCodec.
	default:
		e.state = EngineFailed
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, cfg.Kind)
	}

	e.state = EngineReady
	return e, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Decode turns one RTP payload into linear PCM, recording it as the
// concealer's reference frame for any subsequent loss.
func (e *CodecEngine) Decode(payload []byte) ([]byte, error) {
	if e.state == EngineFailed {
		return nil, ErrEngineFailed
	}

	var pcm []byte
	var err error
	switch e.cfg.Kind {
	case CodecOpus:
		pcm, err = e.opusDec.decodeFrame(payload)
	case CodecPCMU:
		pcm, err = decodeG711(payload, false)
	case CodecPCMA:
		pcm, err = decodeG711(payload, true)
	default:
		return nil, ErrUnsupportedCodec
	}
	if err != nil {
		e.state = EngineFailed
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}

	e.consecutiveLoss = 0
	e.lastGoodPCM = pcm
	e.concealer.observe(pcm)
	e.adaptBitrate(false)
	return pcm, nil
}

// DecodeFEC recovers the payload one frame back from an Opus in-band FEC
// chunk carried in the current packet (spec §4.5 "FEC-assisted decode").
func (e *CodecEngine) DecodeFEC(payload []byte) ([]byte, bool) {
	if e.cfg.Kind != CodecOpus || e.opusDec == nil {
		return nil, false
	}
	pcm, err := e.opusDec.decodeFECFrame(payload)
	if err != nil {
		return nil, false
	}
	e.concealer.observe(pcm)
	return pcm, true
}

// Conceal synthesizes a replacement frame for a missing packet using the
// engine's configured PLC mode (spec §4.5's four strategies).
func (e *CodecEngine) Conceal() []byte {
	e.consecutiveLoss++
	e.adaptBitrate(true)
	return e.concealer.conceal(e.consecutiveLoss)
}

// Encode is used by the session's outgoing path (spec §6 send path is out of
// this receiver's primary scope, but the engine is symmetric so loopback
// tests and any future sender can share it).
func (e *CodecEngine) Encode(pcm []byte) ([]byte, error) {
	if e.state == EngineFailed {
		return nil, ErrEngineFailed
	}
	switch e.cfg.Kind {
	case CodecOpus:
		return e.opusEnc.encodeFrame(pcm, e.currentBitrateBps)
	case CodecPCMU:
		out := make([]byte, len(pcm)/2)
		n, err := EncodeUlawTo(out, pcm)
		return out[:n], err
	case CodecPCMA:
		out := make([]byte, len(pcm)/2)
		n, err := EncodeAlawTo(out, pcm)
		return out[:n], err
	default:
		return nil, ErrUnsupportedCodec
	}
}

// IsSilence reports whether pcm should be suppressed from transmission
// (Opus DTX / the VAD gate for other codecs), per spec §4.5.
func (e *CodecEngine) IsSilence(pcm []byte) bool {
	return e.vad.isSilence(pcm)
}

// adaptBitrate nudges the Opus target bitrate within [MinBitrateBps,
// MaxBitrateBps] based on recent loss: degrade quality under sustained loss
// to shrink packets, recover once loss clears (spec §4.5 "adaptive
// bitrate").
func (e *CodecEngine) adaptBitrate(lossy bool) {
	if e.cfg.Kind != CodecOpus || e.cfg.MaxBitrateBps <= e.cfg.MinBitrateBps {
		return
	}
	step := (e.cfg.MaxBitrateBps - e.cfg.MinBitrateBps) / 10
	if step <= 0 {
		step = 1
	}
	if lossy {
		e.currentBitrateBps -= step
	} else {
		e.currentBitrateBps += step / 2
	}
	if e.currentBitrateBps < e.cfg.MinBitrateBps {
		e.currentBitrateBps = e.cfg.MinBitrateBps
	}
	if e.currentBitrateBps > e.cfg.MaxBitrateBps {
		e.currentBitrateBps = e.cfg.MaxBitrateBps
	}
}

func (e *CodecEngine) CurrentBitrateBps() int { return e.currentBitrateBps }
func (e *CodecEngine) State() EngineState     { return e.state }

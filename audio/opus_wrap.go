// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// newOpusEncoder builds an OpusEncoder configured for VoIP use (spec §4.5:
// maximum complexity, in-band FEC and DTX enabled, bitrate adjusted
// per-frame by the caller).
func newOpusEncoder(sampleRate, channels, frameSamples int) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetComplexity(10); err != nil {
		return nil, fmt.Errorf("opus encoder complexity: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, fmt.Errorf("opus encoder fec: %w", err)
	}
	if err := enc.SetDTX(true); err != nil {
		return nil, fmt.Errorf("opus encoder dtx: %w", err)
	}
	return &OpusEncoder{
		Encoder:     enc,
		pcmInt16:    make([]int16, frameSamples),
		numChannels: channels,
	}, nil
}

func newOpusDecoder(sampleRate, channels, frameSamples int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &OpusDecoder{
		Decoder:     dec,
		pcmInt16:    make([]int16, frameSamples),
		numChannels: channels,
	}, nil
}

// encodeFrame packs one frame of linear PCM into an Opus payload at the
// given target bitrate (spec §4.5 "adaptive bitrate control").
func (enc *OpusEncoder) encodeFrame(pcm []byte, bitrateBps int) ([]byte, error) {
	if err := enc.SetBitrate(bitrateBps); err != nil {
		return nil, fmt.Errorf("opus set bitrate: %w", err)
	}
	out := make([]byte, len(pcm))
	n, err := enc.EncodeTo(out, pcm)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// decodeFrame decodes one ordinary Opus payload to linear PCM.
func (dec *OpusDecoder) decodeFrame(payload []byte) ([]byte, error) {
	out := make([]byte, len(dec.pcmInt16)*2)
	n, err := dec.DecodeTo(out, payload)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// decodeFECFrame recovers the PREVIOUS frame's audio from the in-band FEC
// data riding in the current packet, used when that previous packet never
// arrived (spec §4.5 "FEC-assisted decode" ahead of PLC synthesis).
func (dec *OpusDecoder) decodeFECFrame(payload []byte) ([]byte, error) {
	pcm := make([]int16, len(dec.pcmInt16))
	if err := dec.Decoder.DecodeFEC(payload, pcm); err != nil {
		return nil, fmt.Errorf("opus fec decode: %w", err)
	}
	out := make([]byte, len(pcm)*2)
	n := samplesInt16ToBytes(pcm, out)
	return out[:n], nil
}

func decodeG711(payload []byte, aLaw bool) ([]byte, error) {
	out := make([]byte, len(payload)*2)
	var n int
	var err error
	if aLaw {
		n, err = DecodeAlawTo(out, payload)
	} else {
		n, err = DecodeUlawTo(out, payload)
	}
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

// voiceActivityDetector gates silence for DTX/comfort-noise decisions (spec
// §4.5), built on the same RMS energy estimate the teacher uses for
// recording silence detection.
type voiceActivityDetector struct {
	sampleRate int
	threshold  float64
}

const defaultVADThreshold = 200 // RMS units, int16 PCM

func newVoiceActivityDetector(sampleRate int) *voiceActivityDetector {
	return &voiceActivityDetector{sampleRate: sampleRate, threshold: defaultVADThreshold}
}

func (v *voiceActivityDetector) isSilence(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	return SilenceDetectRMSframe(pcm, v.sampleRate, v.threshold)
}

// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import "time"

// PopResult classifies what TryPop produced for a playout tick.
type PopResult int

const (
	PopNotReady PopResult = iota
	PopReady
	PopLate
)

// JitterBuffer is the §4.4 Adaptive Jitter Buffer: a bounded, time-ordered
// playout queue sized by target delay derived from smoothed jitter.
type JitterBuffer struct {
	maxSize int

	minDelayUs  int64
	baseDelayUs int64
	maxDelayUs  int64
	factor      float64

	currentDelayUs int64
	targetDelayUs  int64

	items []PacketRecord

	lostOverflow uint64
}

// NewJitterBuffer builds a buffer holding at most maxSize packets with the
// delay bounds and jitter factor of spec §4.4's formula.
func NewJitterBuffer(maxSize int, minDelay, baseDelay, maxDelay time.Duration, factor float64) *JitterBuffer {
	return &JitterBuffer{
		maxSize:        maxSize,
		minDelayUs:     minDelay.Microseconds(),
		baseDelayUs:    baseDelay.Microseconds(),
		maxDelayUs:     maxDelay.Microseconds(),
		factor:         factor,
		currentDelayUs: baseDelay.Microseconds(),
		targetDelayUs:  baseDelay.Microseconds(),
	}
}

// clampI64 bounds v within [lo, hi].
func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Insert places rec at its scheduled-play-time position (spec §4.4). On
// overflow the newest (largest scheduled time) packet is dropped, reported
// via the returned bool so the caller can bump lost_packets.
func (j *JitterBuffer) Insert(rec PacketRecord, arrivalUs int64) (droppedOverflow bool) {
	rec.ScheduledPlayUs = arrivalUs + j.currentDelayUs

	idx := 0
	for idx < len(j.items) && j.items[idx].ScheduledPlayUs <= rec.ScheduledPlayUs {
		idx++
	}

	j.items = append(j.items, PacketRecord{})
	copy(j.items[idx+1:], j.items[idx:])
	j.items[idx] = rec

	if len(j.items) > j.maxSize {
		j.items = j.items[:j.maxSize]
		droppedOverflow = true
	}
	return droppedOverflow
}

// TryPop returns the head packet if its scheduled play time has arrived. A
// head that is more than max_delay behind now is reported as PopLate and
// removed so the caller can request PLC (spec §4.4).
func (j *JitterBuffer) TryPop(nowUs int64) (PacketRecord, PopResult) {
	if len(j.items) == 0 {
		return PacketRecord{}, PopNotReady
	}
	head := j.items[0]
	if head.ScheduledPlayUs > nowUs {
		return PacketRecord{}, PopNotReady
	}
	if nowUs-head.ScheduledPlayUs > j.maxDelayUs {
		j.items = j.items[1:]
		return head, PopLate
	}
	j.items = j.items[1:]
	return head, PopReady
}

// Adapt recomputes the target delay from smoothed jitter and current loss
// rate, then moves the current delay toward it asymmetrically: grow up to
// 2ms per tick, shrink up to 1ms per tick (spec §4.4).
func (j *JitterBuffer) Adapt(smoothedJitterMs float64, lossRate float64) {
	targetMs := float64(j.baseDelayUs)/1000 + smoothedJitterMs*j.factor
	if lossRate > 0.05 {
		targetMs += 10 // widen the window when loss is elevated
	}
	targetUs := clampI64(int64(targetMs*1000), j.minDelayUs, j.maxDelayUs)
	j.targetDelayUs = targetUs

	const growStepUs = 2000
	const shrinkStepUs = 1000

	diff := j.targetDelayUs - j.currentDelayUs
	switch {
	case diff > 0:
		if diff > growStepUs {
			diff = growStepUs
		}
		j.currentDelayUs += diff
	case diff < 0:
		if -diff > shrinkStepUs {
			diff = -shrinkStepUs
		}
		j.currentDelayUs += diff
	}
	j.currentDelayUs = clampI64(j.currentDelayUs, j.minDelayUs, j.maxDelayUs)
}

func (j *JitterBuffer) CurrentDelayMs() float64 { return float64(j.currentDelayUs) / 1000 }
func (j *JitterBuffer) TargetDelayMs() float64  { return float64(j.targetDelayUs) / 1000 }
func (j *JitterBuffer) Len() int                { return len(j.items) }

// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"time"

	"github.com/rs/zerolog"
)

// ReorderBuffer is the §4.3 "Reorder & FEC Buffer": a bounded window that
// holds out-of-order media packets long enough for their natural order to
// settle or for FEC to fill a gap, plus the XOR parity bookkeeping for each
// contiguous span of K media packets.
type ReorderBuffer struct {
	w                int
	k                int
	maxReorderWaitUs int64

	slots  map[uint64]PacketRecord
	groups map[uint64]*fecGroup

	highestDelivered uint64
	haveDelivered    bool

	log zerolog.Logger
}

// NewReorderBuffer creates a buffer holding at most w packets, grouping FEC
// parity in spans of k, waiting at most maxReorderWait before declaring a
// held slot ready regardless of strict order (spec §4.3 defaults: W=128,
// K=5, MAX_REORDER_WAIT_MS=40).
func NewReorderBuffer(w, k int, maxReorderWait time.Duration, log zerolog.Logger) *ReorderBuffer {
	return &ReorderBuffer{
		w:                w,
		k:                k,
		maxReorderWaitUs: maxReorderWait.Microseconds(),
		slots:            make(map[uint64]PacketRecord),
		groups:           make(map[uint64]*fecGroup),
		log:              log,
	}
}

func (r *ReorderBuffer) groupFor(ext uint64) *fecGroup {
	idx := ext / uint64(r.k)
	g, ok := r.groups[idx]
	if !ok {
		g = newFECGroup(uint16(idx*uint64(r.k)), r.k)
		r.groups[idx] = g
	}
	return g
}

// InsertFEC records the XOR parity payload for the group covering groupFirstExt.
func (r *ReorderBuffer) InsertFEC(groupFirstExt uint64, payload []byte) {
	idx := groupFirstExt / uint64(r.k)
	g, ok := r.groups[idx]
	if !ok {
		g = newFECGroup(uint16(groupFirstExt), r.k)
		r.groups[idx] = g
	}
	if !g.hasParity {
		owned := make([]byte, len(payload))
		copy(owned, payload)
		g.wireParity = owned
		g.hasParity = true
	}
}

// Insert stores a media packet. It returns ErrDroppedDuplicate if this exact
// sequence was already delivered or is already buffered (spec property
// "Reorder idempotence"), or ErrReorderBufferFull if the window is saturated
// and the oldest held slot is not yet old enough to evict.
func (r *ReorderBuffer) Insert(rec PacketRecord, nowUs int64) error {
	if r.haveDelivered && rec.Extended <= r.highestDelivered {
		return ErrDroppedDuplicate
	}
	if _, exists := r.slots[rec.Extended]; exists {
		return ErrDroppedDuplicate
	}

	if len(r.slots) >= r.w {
		oldestExt, oldestRec, found := r.oldest()
		if !found || nowUs-oldestRec.ArrivalUs < r.maxReorderWaitUs {
			return ErrReorderBufferFull
		}
		delete(r.slots, oldestExt)
	}

	r.slots[rec.Extended] = rec

	g := r.groupFor(rec.Extended)
	offset := int(rec.Extended % uint64(r.k))
	g.setMember(offset, rec.Payload)

	return nil
}

func (r *ReorderBuffer) oldest() (uint64, PacketRecord, bool) {
	var (
		bestExt uint64
		bestRec PacketRecord
		found   bool
	)
	for ext, rec := range r.slots {
		if !found || rec.ArrivalUs < bestRec.ArrivalUs {
			bestExt, bestRec, found = ext, rec, true
		}
	}
	return bestExt, bestRec, found
}

// TryPopNext returns the slot matching expectedExt if present; otherwise the
// held slot with the smallest forward distance that has waited at least
// MAX_REORDER_WAIT_MS; otherwise reports "not ready" (spec §4.3).
func (r *ReorderBuffer) TryPopNext(expectedExt uint64, nowUs int64) (PacketRecord, bool) {
	if rec, ok := r.slots[expectedExt]; ok {
		delete(r.slots, expectedExt)
		r.markDelivered(expectedExt)
		return rec, true
	}

	var (
		bestExt uint64
		bestRec PacketRecord
		found   bool
	)
	for ext, rec := range r.slots {
		if ext <= expectedExt {
			continue
		}
		if nowUs-rec.ArrivalUs < r.maxReorderWaitUs {
			continue
		}
		if !found || ext < bestExt {
			bestExt, bestRec, found = ext, rec, true
		}
	}
	if !found {
		return PacketRecord{}, false
	}
	delete(r.slots, bestExt)
	r.markDelivered(bestExt)
	return bestRec, true
}

func (r *ReorderBuffer) markDelivered(ext uint64) {
	if !r.haveDelivered || ext > r.highestDelivered {
		r.highestDelivered = ext
		r.haveDelivered = true
	}
}

// MarkMissingDelivered records that the slot at ext was resolved by some
// other means (FEC recovery or PLC) so future duplicates of it are rejected.
func (r *ReorderBuffer) MarkMissingDelivered(ext uint64) {
	r.markDelivered(ext)
}

// AttemptFECRecovery reconstructs the payload at missingExt if its group's
// parity and all other K-1 members are present (spec §4.3). The caller fills
// in the interpolated timestamp, since frame period is a codec-level
// property the buffer does not track.
func (r *ReorderBuffer) AttemptFECRecovery(missingExt uint64) ([]byte, bool) {
	idx := missingExt / uint64(r.k)
	g, ok := r.groups[idx]
	if !ok || !g.hasParity {
		return nil, false
	}
	offset := int(missingExt % uint64(r.k))
	missing, canRecover := g.canRecover(r.k)
	if !canRecover || missing != offset {
		return nil, false
	}
	return g.recover(g.wireParity, r.k, missing), true
}

// Prune drops FEC groups too old to ever be used again, bounding memory.
func (r *ReorderBuffer) Prune(nowExtended uint64) {
	if nowExtended < uint64(MaxDropout) {
		return
	}
	floor := (nowExtended - uint64(MaxDropout)) / uint64(r.k)
	for idx := range r.groups {
		if idx < floor {
			delete(r.groups, idx)
		}
	}
}

// LowestPending returns the smallest extended sequence currently buffered,
// used to seed a fresh expected-next cursor after a restart.
func (r *ReorderBuffer) LowestPending() (uint64, bool) {
	var (
		best  uint64
		found bool
	)
	for ext := range r.slots {
		if !found || ext < best {
			best, found = ext, true
		}
	}
	return best, found
}

// Len reports how many media packets are currently buffered.
func (r *ReorderBuffer) Len() int { return len(r.slots) }

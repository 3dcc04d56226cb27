// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry is the only structure touched by more than one goroutine (spec
// §5): one coarse lock guards the handle table. Everything inside a single
// Stream stays single-owner.
type Registry struct {
	mu sync.Mutex

	cfg SessionConfig
	log zerolog.Logger

	byKey      map[StreamKey]StreamHandle
	streams    map[StreamHandle]*Stream
	nextHandle uint64
}

func NewRegistry(cfg SessionConfig, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		log:     log,
		byKey:   make(map[StreamKey]StreamHandle),
		streams: make(map[StreamHandle]*Stream),
	}
}

// FindOrCreate resolves key to its Stream, allocating a new one bound to
// codec if none exists yet (spec §4.1). Returns ErrTooManyStreams if the
// session is already at MaxStreams and key is unseen.
func (r *Registry) FindOrCreate(key StreamKey, codec Codec) (*Stream, StreamHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byKey[key]; ok {
		return r.streams[h], h, nil
	}

	if len(r.streams) >= r.cfg.MaxStreams {
		return nil, 0, ErrTooManyStreams
	}

	s, err := newStream(key, codec, r.cfg, r.log.With().
		Str("ssrc_dir", key.Direction.String()).
		Uint32("ssrc", key.SSRC).
		Logger())
	if err != nil {
		return nil, 0, err
	}

	r.nextHandle++
	h := StreamHandle(r.nextHandle)
	r.byKey[key] = h
	r.streams[h] = s
	return s, h, nil
}

// FindByKey looks up a Stream without creating one, used by paths (e.g. FEC
// parity packets) that must not originate a stream on their own.
func (r *Registry) FindByKey(key StreamKey) (*Stream, StreamHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byKey[key]
	if !ok {
		return nil, 0, false
	}
	return r.streams[h], h, true
}

func (r *Registry) Get(h StreamHandle) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[h]
	return s, ok
}

// Remove evicts a single stream, freeing its key for reuse. Handles are
// never reissued: a later stream on the same key gets a new one.
func (r *Registry) Remove(h StreamHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[h]; ok {
		delete(r.byKey, s.Key)
		delete(r.streams, h)
	}
}

// Sweep evicts every stream idle beyond RTPTimeout (spec §5), mirroring the
// teacher's Monitor ticker pattern: a periodic pass over live state rather
// than a per-packet timer. Returns the handles removed.
func (r *Registry) Sweep(nowUs int64) []StreamHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []StreamHandle
	for h, s := range r.streams {
		if s.idleSince(nowUs, r.cfg.RTPTimeout) {
			delete(r.byKey, s.Key)
			delete(r.streams, h)
			evicted = append(evicted, h)
		}
	}
	return evicted
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Snapshot drains stats for every live stream, the payload of CloseSession
// (spec §6).
func (r *Registry) Snapshot() FinalStats {
	r.mu.Lock()
	handles := make([]StreamHandle, 0, len(r.streams))
	streams := make([]*Stream, 0, len(r.streams))
	for h, s := range r.streams {
		handles = append(handles, h)
		streams = append(streams, s)
	}
	r.mu.Unlock()

	out := FinalStats{Streams: make(map[StreamHandle]Stats, len(handles))}
	for i, h := range handles {
		out.Streams[h] = streams[i].snapshot()
	}
	return out
}

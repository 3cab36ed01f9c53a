package engine

import (
	"sync"

	"branchdown/internal/model"
)

// streamState is everything owned by one stream. mu is the per-stream
// critical section: insertions and deletion hold it exclusively, queries
// hold it shared.
type streamState struct {
	mu       sync.RWMutex
	stream   model.Stream
	rootID   int64
	points   *PointStore
	branches BranchAllocator
	deleted  bool
}

func newStreamState(s model.Stream, root model.Point) *streamState {
	st := &streamState{stream: s, rootID: root.ID, points: newPointStore()}
	st.points.insert(root)
	st.branches.Commit(root.BranchNum)
	return st
}

// StreamRegistry maps stream ids and point ids to their stream. Its lock is
// held only for map access and never while waiting on a stream lock; a
// caller holding a stream lock may take it, never the other way round.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[int64]*streamState
	owners  map[int64]*streamState
}

func newStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[int64]*streamState),
		owners:  make(map[int64]*streamState),
	}
}

func (r *StreamRegistry) stream(id int64) (*streamState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.streams[id]
	return st, ok
}

func (r *StreamRegistry) ownerOf(pointID int64) (*streamState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.owners[pointID]
	return st, ok
}

func (r *StreamRegistry) register(st *streamState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[st.stream.ID] = st
	for _, id := range st.points.ids() {
		r.owners[id] = st
	}
}

func (r *StreamRegistry) indexPoint(pointID int64, st *streamState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[pointID] = st
}

// unregister drops the stream and its point index. The caller holds st.mu.
func (r *StreamRegistry) unregister(st *streamState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, st.stream.ID)
	for _, id := range st.points.ids() {
		delete(r.owners, id)
	}
}

func (r *StreamRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

func (r *StreamRegistry) pointCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

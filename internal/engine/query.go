package engine

import "branchdown/internal/model"

// NoDepthFilter selects every depth in GetBranchPoints.
const NoDepthFilter = -1

// GetStreamPoints returns every point of the stream in insertion order,
// root first.
func (e *Engine) GetStreamPoints(streamID int64) ([]model.Point, error) {
	st, err := e.readStream("getStreamPoints", streamID)
	if err != nil {
		return nil, err
	}
	defer st.mu.RUnlock()
	return st.points.all(), nil
}

// GetBranchPoints returns the points whose branch number is branchNum and
// whose depth is greater than depthFilter. An unused branch yields an empty
// slice, not an error.
func (e *Engine) GetBranchPoints(streamID int64, branchNum, depthFilter int) ([]model.Point, error) {
	st, err := e.readStream("getBranchPoints", streamID)
	if err != nil {
		return nil, err
	}
	defer st.mu.RUnlock()
	return st.points.branch(branchNum, depthFilter), nil
}

// GetAncestors returns pointID itself followed by its ancestors, nearest
// first, stopping before the root sentinel.
func (e *Engine) GetAncestors(pointID int64) ([]model.Point, error) {
	const op = "getAncestors"
	st, ok := e.registry.ownerOf(pointID)
	if !ok {
		return nil, notFound(op, "point", pointID)
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.deleted {
		return nil, notFound(op, "point", pointID)
	}
	if _, ok := st.points.get(pointID); !ok {
		return nil, notFound(op, "point", pointID)
	}
	return st.points.ancestors(pointID), nil
}

// readStream returns the live stream with its read lock held.
func (e *Engine) readStream(op string, streamID int64) (*streamState, error) {
	st, ok := e.registry.stream(streamID)
	if !ok {
		return nil, notFound(op, "stream", streamID)
	}
	st.mu.RLock()
	if st.deleted {
		st.mu.RUnlock()
		return nil, notFound(op, "stream", streamID)
	}
	return st, nil
}

package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"branchdown/internal/model"

	"go.uber.org/zap"
)

// Journal durably records mutations. Append is called inside the owning
// stream's critical section before the change becomes visible; Load returns
// what Restore needs to rebuild the engine at boot.
type Journal interface {
	Append(mut model.Mutation) error
	Load() ([]model.Mutation, error)
}

// Observer receives engine events, e.g. for metrics.
type Observer interface {
	StreamCreated()
	// StreamDeleted reports how many points, root included, went with it.
	StreamDeleted(points int)
	PointAdded(freshBranch bool)
	Restored(streams, points int)
}

type Options struct {
	// Journal may be nil for a purely in-memory engine.
	Journal  Journal
	Logger   *zap.Logger
	Observer Observer
	Clock    func() time.Time
}

// Engine is the stream/point tree store. It is safe for concurrent use.
type Engine struct {
	registry     *StreamRegistry
	journal      Journal
	log          *zap.Logger
	obs          Observer
	now          func() time.Time
	lastStreamID atomic.Int64
	lastPointID  atomic.Int64
}

func New(opts Options) *Engine {
	e := &Engine{
		registry: newStreamRegistry(),
		journal:  opts.Journal,
		log:      opts.Logger,
		obs:      opts.Observer,
		now:      opts.Clock,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.obs == nil {
		e.obs = nopObserver{}
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// CreateStream allocates a stream together with its root sentinel point
// (no parent, no item, branch 0, depth 0).
func (e *Engine) CreateStream() (model.Stream, error) {
	const op = "createStream"

	s := model.Stream{ID: e.lastStreamID.Add(1), CreatedAt: e.now()}
	root := model.Point{ID: e.lastPointID.Add(1), StreamID: s.ID}

	mut, err := model.NewStreamCreated(s, root)
	if err != nil {
		return model.Stream{}, internal(op, err)
	}
	if err := e.append(mut); err != nil {
		return model.Stream{}, internal(op, err)
	}

	e.registry.register(newStreamState(s, root))
	e.obs.StreamCreated()
	e.log.Debug("stream created", zap.Int64("stream", s.ID), zap.Int64("root", root.ID))
	return s, nil
}

func (e *Engine) GetStream(streamID int64) (model.Stream, error) {
	const op = "getStream"
	st, err := e.readStream(op, streamID)
	if err != nil {
		return model.Stream{}, err
	}
	defer st.mu.RUnlock()
	return st.stream, nil
}

// DeleteStream removes the stream and all of its points. Concurrent readers
// see either the whole stream or NotFound.
func (e *Engine) DeleteStream(streamID int64) error {
	const op = "deleteStream"
	st, ok := e.registry.stream(streamID)
	if !ok {
		return notFound(op, "stream", streamID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return notFound(op, "stream", streamID)
	}
	if err := e.append(model.NewStreamDeleted(streamID)); err != nil {
		return internal(op, err)
	}

	st.deleted = true
	e.registry.unregister(st)
	removed := st.points.len()
	e.obs.StreamDeleted(removed)
	e.log.Debug("stream deleted", zap.Int64("stream", streamID), zap.Int("points", removed))
	return nil
}

// AddPoint inserts a child under parentID. The "does the parent already
// have a child" check, the branch decision and the journal append happen
// under one exclusive stream lock.
func (e *Engine) AddPoint(parentID int64, itemID string) (model.Point, error) {
	const op = "addPoint"
	if itemID == "" {
		return model.Point{}, invalidArgument(op, "itemId is required")
	}

	st, ok := e.registry.ownerOf(parentID)
	if !ok {
		return model.Point{}, notFound(op, "point", parentID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted {
		return model.Point{}, notFound(op, "point", parentID)
	}
	parent, ok := st.points.get(parentID)
	if !ok {
		return model.Point{}, notFound(op, "point", parentID)
	}

	branch, fresh := st.branches.Decide(parent, st.points.hasChild(parentID))
	if fresh && st.points.hasBranch(branch) {
		e.log.Error("branch allocation conflict",
			zap.Int64("stream", st.stream.ID), zap.Int64("parent", parentID), zap.Int("branch", branch))
		return model.Point{}, &Error{Kind: KindConflict, Op: op, Resource: "stream", ID: st.stream.ID,
			Msg: fmt.Sprintf("branch %d already allocated", branch)}
	}

	item := itemID
	p := model.Point{
		ID:        e.lastPointID.Add(1),
		StreamID:  st.stream.ID,
		ParentID:  &parentID,
		ItemID:    &item,
		BranchNum: branch,
		Depth:     parent.Depth + 1,
	}
	mut, err := model.NewPointAdded(p)
	if err != nil {
		return model.Point{}, internal(op, err)
	}
	if err := e.append(mut); err != nil {
		return model.Point{}, internal(op, err)
	}

	st.points.insert(p)
	st.branches.Commit(branch)
	e.registry.indexPoint(p.ID, st)
	e.obs.PointAdded(fresh)
	e.log.Debug("point added",
		zap.Int64("stream", p.StreamID), zap.Int64("point", p.ID), zap.Int64("parent", parentID),
		zap.Int("branch", branch), zap.Bool("fresh_branch", fresh), zap.Int("depth", p.Depth))
	return p, nil
}

// Restore replays journaled mutations into an empty engine. Id counters end
// up above every id the journal has seen, including those of deleted streams.
func (e *Engine) Restore(muts []model.Mutation) error {
	for i, mut := range muts {
		if err := e.apply(mut); err != nil {
			return fmt.Errorf("restore mutation %d (seq %d, %s): %w", i, mut.Sequence, mut.Op, err)
		}
	}
	streams, points := e.registry.len(), e.registry.pointCount()
	e.obs.Restored(streams, points)
	e.log.Info("engine restored", zap.Int("mutations", len(muts)), zap.Int("streams", streams), zap.Int("points", points))
	return nil
}

func (e *Engine) apply(mut model.Mutation) error {
	switch mut.Op {
	case model.WATERMARK:
		w, err := mut.DecodeWatermark()
		if err != nil {
			return err
		}
		e.raiseIDs(w.StreamID, w.PointID)
	case model.STREAM_CREATE:
		s, root, err := mut.DecodeStreamCreated()
		if err != nil {
			return err
		}
		if _, exists := e.registry.stream(s.ID); exists {
			return fmt.Errorf("stream %d created twice", s.ID)
		}
		e.registry.register(newStreamState(s, root))
		e.raiseIDs(s.ID, root.ID)
	case model.POINT_ADD:
		p, err := mut.DecodePoint()
		if err != nil {
			return err
		}
		if p.ParentID == nil {
			return fmt.Errorf("point %d has no parent", p.ID)
		}
		st, ok := e.registry.stream(p.StreamID)
		if !ok {
			return fmt.Errorf("point %d references unknown stream %d", p.ID, p.StreamID)
		}
		if _, ok := st.points.get(*p.ParentID); !ok {
			return fmt.Errorf("point %d references unknown parent %d", p.ID, *p.ParentID)
		}
		st.points.insert(p)
		st.branches.Commit(p.BranchNum)
		e.registry.indexPoint(p.ID, st)
		e.raiseIDs(0, p.ID)
	case model.STREAM_DELETE:
		id, err := mut.StreamID()
		if err != nil {
			return err
		}
		st, ok := e.registry.stream(id)
		if !ok {
			return fmt.Errorf("delete of unknown stream %d", id)
		}
		st.deleted = true
		e.registry.unregister(st)
	default:
		return fmt.Errorf("unsupported op %s", mut.Op)
	}
	return nil
}

func (e *Engine) raiseIDs(streamID, pointID int64) {
	if streamID > e.lastStreamID.Load() {
		e.lastStreamID.Store(streamID)
	}
	if pointID > e.lastPointID.Load() {
		e.lastPointID.Store(pointID)
	}
}

func (e *Engine) append(mut model.Mutation) error {
	if e.journal == nil {
		return nil
	}
	return e.journal.Append(mut)
}

type Stats struct {
	Streams int `json:"streams"`
	Points  int `json:"points"`
}

func (e *Engine) Stats() Stats {
	return Stats{Streams: e.registry.len(), Points: e.registry.pointCount()}
}

type nopObserver struct{}

func (nopObserver) StreamCreated()    {}
func (nopObserver) StreamDeleted(int) {}
func (nopObserver) PointAdded(bool)   {}
func (nopObserver) Restored(int, int) {}

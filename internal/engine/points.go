package engine

import "branchdown/internal/model"

// PointStore is the flat, id-keyed point table of one stream. Children are
// found through the parent back-reference, never through embedded pointers.
// PointStore has no locking of its own; the owning stream's lock guards it.
type PointStore struct {
	byID     map[int64]model.Point
	order    []int64
	children map[int64]int
	branches map[int][]int64
}

func newPointStore() *PointStore {
	return &PointStore{
		byID:     make(map[int64]model.Point),
		children: make(map[int64]int),
		branches: make(map[int][]int64),
	}
}

func (ps *PointStore) get(id int64) (model.Point, bool) {
	p, ok := ps.byID[id]
	return p, ok
}

func (ps *PointStore) hasChild(id int64) bool {
	return ps.children[id] > 0
}

func (ps *PointStore) hasBranch(branch int) bool {
	return len(ps.branches[branch]) > 0
}

func (ps *PointStore) len() int {
	return len(ps.order)
}

// insert adds p. The caller has already checked that p's parent exists.
func (ps *PointStore) insert(p model.Point) {
	ps.byID[p.ID] = p
	ps.order = append(ps.order, p.ID)
	ps.branches[p.BranchNum] = append(ps.branches[p.BranchNum], p.ID)
	if p.ParentID != nil {
		ps.children[*p.ParentID]++
	}
}

func (ps *PointStore) ids() []int64 {
	return ps.order
}

// all returns every point in insertion order.
func (ps *PointStore) all() []model.Point {
	out := make([]model.Point, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, ps.byID[id])
	}
	return out
}

// branch returns the points of one branch with depth > depthFilter, in
// insertion order. Membership is by branch number only; ancestors living on
// other branches are not pulled in.
func (ps *PointStore) branch(branchNum, depthFilter int) []model.Point {
	ids := ps.branches[branchNum]
	out := make([]model.Point, 0, len(ids))
	for _, id := range ids {
		if p := ps.byID[id]; p.Depth > depthFilter {
			out = append(out, p)
		}
	}
	return out
}

// ancestors walks parent links from id toward the root: self first, then the
// nearest ancestor outward. The root sentinel is never included, so the
// ancestors of the root itself are empty.
func (ps *PointStore) ancestors(id int64) []model.Point {
	out := make([]model.Point, 0)
	cur, ok := ps.byID[id]
	for ok && !cur.IsRoot() {
		out = append(out, cur)
		cur, ok = ps.byID[*cur.ParentID]
	}
	return out
}

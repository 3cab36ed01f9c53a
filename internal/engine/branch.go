package engine

import "branchdown/internal/model"

// BranchAllocator owns a stream's next-branch counter. It is only touched
// while the stream's exclusive lock is held.
type BranchAllocator struct {
	next int
}

// Decide picks the branch for a new child of parent. The first child of a
// point continues the parent's branch; any later child opens a fresh branch
// numbered above every branch used so far in the stream. Decide does not
// advance the counter; call Commit once the point is persisted.
func (a *BranchAllocator) Decide(parent model.Point, parentHasChild bool) (branch int, fresh bool) {
	if !parentHasChild {
		return parent.BranchNum, false
	}
	return a.next, true
}

// Commit records that branch is now in use.
func (a *BranchAllocator) Commit(branch int) {
	if branch >= a.next {
		a.next = branch + 1
	}
}

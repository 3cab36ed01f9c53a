package e2e

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"branchdown/pkg/client"
)

func TestStreamScenarios(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	c := sut.Client(t)
	ctx := testContext(t)

	s, err := c.CreateStream(ctx)
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	points, err := c.GetStreamPoints(ctx, s.ID)
	if err != nil {
		t.Fatalf("stream points: %v", err)
	}
	if len(points) != 1 || points[0].ParentID != nil || points[0].Depth != 0 {
		t.Fatalf("expected only the root sentinel, got %+v", points)
	}
	root := points[0]

	first, err := c.AddPoint(ctx, root.ID, "item-001")
	if err != nil {
		t.Fatalf("add item-001: %v", err)
	}
	if first.BranchNum != 0 {
		t.Fatalf("first child should continue branch 0, got %d", first.BranchNum)
	}

	second, err := c.AddPoint(ctx, root.ID, "item-002")
	if err != nil {
		t.Fatalf("add item-002: %v", err)
	}
	if second.BranchNum != 1 {
		t.Fatalf("second child should fork branch 1, got %d", second.BranchNum)
	}

	branch0, err := c.GetBranchPoints(ctx, s.ID, 0, client.NoDepthFilter)
	if err != nil {
		t.Fatalf("branch 0: %v", err)
	}
	if len(branch0) != 2 {
		t.Fatalf("branch 0 should hold root and item-001, got %d points", len(branch0))
	}
	filtered, err := c.GetBranchPoints(ctx, s.ID, 0, 0)
	if err != nil {
		t.Fatalf("branch 0 depth>0: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != first.ID {
		t.Fatalf("depth filter 0 should leave only item-001, got %+v", filtered)
	}

	if _, err := c.AddPoint(ctx, root.ID, ""); !errors.Is(err, client.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty item id, got %v", err)
	}

	if err := c.DeleteStream(ctx, s.ID); err != nil {
		t.Fatalf("delete stream: %v", err)
	}
	if _, err := c.GetStream(ctx, s.ID); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestAncestorChain(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	c := sut.Client(t)
	ctx := testContext(t)

	s, err := c.CreateStream(ctx)
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	points, err := c.GetStreamPoints(ctx, s.ID)
	if err != nil {
		t.Fatalf("stream points: %v", err)
	}

	parent := points[0].ID
	var ids []int64
	for i := 0; i < 5; i++ {
		p, err := c.AddPoint(ctx, parent, fmt.Sprintf("turn-%d", i))
		if err != nil {
			t.Fatalf("add turn-%d: %v", i, err)
		}
		if p.Depth != i+1 {
			t.Fatalf("turn-%d depth: got %d want %d", i, p.Depth, i+1)
		}
		ids = append(ids, p.ID)
		parent = p.ID
	}

	chain, err := c.GetAncestors(ctx, ids[len(ids)-1])
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(chain) != len(ids) {
		t.Fatalf("ancestor count: got %d want %d", len(chain), len(ids))
	}
	for i, p := range chain {
		if want := ids[len(ids)-1-i]; p.ID != want {
			t.Fatalf("ancestor[%d]: got %d want %d", i, p.ID, want)
		}
	}

	rootChain, err := c.GetAncestors(ctx, points[0].ID)
	if err != nil {
		t.Fatalf("root ancestors: %v", err)
	}
	if len(rootChain) != 0 {
		t.Fatalf("root should have no ancestors, got %+v", rootChain)
	}
}

func TestConcurrentForksGetDistinctBranches(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	c := sut.Client(t)
	ctx := testContext(t)

	s, err := c.CreateStream(ctx)
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	points, err := c.GetStreamPoints(ctx, s.ID)
	if err != nil {
		t.Fatalf("stream points: %v", err)
	}
	root := points[0].ID

	const writers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		branches = make(map[int]int)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.AddPoint(ctx, root, fmt.Sprintf("fork-%d", i))
			if err != nil {
				t.Errorf("add fork-%d: %v", i, err)
				return
			}
			mu.Lock()
			branches[p.BranchNum]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for b := 0; b < writers; b++ {
		if branches[b] != 1 {
			t.Fatalf("branch %d assigned %d times; all: %v", b, branches[b], branches)
		}
	}
}

func TestBadRequestOnMalformedID(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	ctx := testContext(t)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sut.BaseURL+"/api/streams/not-a-number", nil)
	if err != nil {
		t.Fatalf("build malformed request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do malformed request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
}

func TestCrashRecovery(t *testing.T) {
	sut := startSystemUnderTest(t)
	defer sut.Close()
	if sut.restart == nil {
		t.Skip("restart testing requires a controllable server process")
	}

	c := sut.Client(t)
	ctx := testContext(t)

	s, err := c.CreateStream(ctx)
	if err != nil {
		t.Fatalf("create stream: %v", err)
	}
	points, err := c.GetStreamPoints(ctx, s.ID)
	if err != nil {
		t.Fatalf("stream points: %v", err)
	}
	if _, err := c.AddPoint(ctx, points[0].ID, "persist-me"); err != nil {
		t.Fatalf("add before crash: %v", err)
	}
	fork, err := c.AddPoint(ctx, points[0].ID, "fork")
	if err != nil {
		t.Fatalf("fork before crash: %v", err)
	}

	sut.restart(t)

	after, err := c.GetStreamPoints(ctx, s.ID)
	if err != nil {
		t.Fatalf("points after restart: %v", err)
	}
	if len(after) != 3 {
		t.Fatalf("crash recovery lost points: got %d want 3", len(after))
	}

	next, err := c.AddPoint(ctx, points[0].ID, "after-restart")
	if err != nil {
		t.Fatalf("add after restart: %v", err)
	}
	if next.BranchNum != fork.BranchNum+1 {
		t.Fatalf("branch counter not restored: got %d want %d", next.BranchNum, fork.BranchNum+1)
	}
	if next.ID <= fork.ID {
		t.Fatalf("point id reused after restart: got %d, last was %d", next.ID, fork.ID)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

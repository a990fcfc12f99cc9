package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/render"
)

const testDebounce = 20 * time.Millisecond

// fakeRenderer echoes the job back, optionally blocking until released or
// cancelled
type fakeRenderer struct {
	calls   atomic.Int32
	delay   time.Duration
	mu      sync.Mutex
	started []string
}

func (f *fakeRenderer) Render(ctx context.Context, job banner.Job) (*render.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.started = append(f.started, job.Content.Text())
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &render.Result{Job: job}, nil
}

func newTestCoordinator(r Renderer) (*Coordinator, chan *render.Result) {
	commits := make(chan *render.Result, 16)
	c := New(r, Options{
		Debounce: testDebounce,
		OnCommit: func(res *render.Result) { commits <- res },
	})
	return c, commits
}

func jobWithText(text string) banner.Job {
	return banner.Job{ID: "test", Content: banner.Plain(text)}
}

func waitCommit(t *testing.T, commits chan *render.Result) *render.Result {
	t.Helper()
	select {
	case res := <-commits:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a commit")
		return nil
	}
}

func expectNoCommit(t *testing.T, commits chan *render.Result, wait time.Duration) {
	t.Helper()
	select {
	case res := <-commits:
		t.Fatalf("unexpected commit of %q", res.Job.Content.Text())
	case <-time.After(wait):
	}
}

func TestBurstOfEditsCommitsOnlyTheLast(t *testing.T) {
	r := &fakeRenderer{}
	c, commits := newTestCoordinator(r)
	defer c.Close()

	for _, text := range []string{"S", "Sh", "Sho", "Shor", "Short"} {
		c.OnContentChanged(jobWithText(text))
		time.Sleep(testDebounce / 4)
	}

	res := waitCommit(t, commits)
	if got := res.Job.Content.Text(); got != "Short" {
		t.Errorf("expected the final edit to be committed, got %q", got)
	}
	expectNoCommit(t, commits, 5*testDebounce)

	if n := r.calls.Load(); n != 1 {
		t.Errorf("expected one render for a burst of edits, got %d", n)
	}

	current, ok := c.CurrentBitmap()
	if !ok || current != res {
		t.Errorf("current bitmap should be the committed result")
	}
}

func TestNoBitmapBeforeFirstCommit(t *testing.T) {
	c, _ := newTestCoordinator(&fakeRenderer{})
	defer c.Close()

	if _, ok := c.CurrentBitmap(); ok {
		t.Error("expected no bitmap before any edit")
	}
	if c.Pending() {
		t.Error("expected nothing pending before any edit")
	}

	c.OnContentChanged(jobWithText("x"))
	if !c.Pending() {
		t.Error("expected a pending render straight after an edit")
	}
}

func TestEditDuringRenderCancelsIt(t *testing.T) {
	r := &fakeRenderer{delay: 200 * time.Millisecond}
	c, commits := newTestCoordinator(r)
	defer c.Close()

	c.OnContentChanged(jobWithText("first"))
	// let the first render start
	time.Sleep(testDebounce * 3)
	c.OnContentChanged(jobWithText("second"))

	res := waitCommit(t, commits)
	if got := res.Job.Content.Text(); got != "second" {
		t.Errorf("expected the newer edit to win, got %q", got)
	}
	expectNoCommit(t, commits, 300*time.Millisecond)
}

func TestSequentialEditsCommitInOrder(t *testing.T) {
	c, commits := newTestCoordinator(&fakeRenderer{})
	defer c.Close()

	for _, text := range []string{"one", "two", "three"} {
		c.OnContentChanged(jobWithText(text))
		res := waitCommit(t, commits)
		if got := res.Job.Content.Text(); got != text {
			t.Fatalf("expected %q to be committed, got %q", text, got)
		}
	}
	if c.Pending() {
		t.Error("expected nothing pending once the last edit is committed")
	}
}

func TestCloseStopsPendingWork(t *testing.T) {
	r := &fakeRenderer{}
	c, commits := newTestCoordinator(r)

	c.OnContentChanged(jobWithText("never"))
	c.Close()

	expectNoCommit(t, commits, 5*testDebounce)
	if n := r.calls.Load(); n != 0 {
		t.Errorf("expected no renders after close, got %d", n)
	}

	// edits after close are ignored
	c.OnContentChanged(jobWithText("ignored"))
	expectNoCommit(t, commits, 3*testDebounce)
}

func TestCloseWaitsForRunningRender(t *testing.T) {
	r := &fakeRenderer{delay: time.Second}
	c, commits := newTestCoordinator(r)

	c.OnContentChanged(jobWithText("slow"))
	time.Sleep(testDebounce * 3)

	start := time.Now()
	c.Close()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("close should cancel the running render, took %v", elapsed)
	}
	expectNoCommit(t, commits, 2*testDebounce)
}

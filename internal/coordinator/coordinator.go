// Package coordinator debounces edits to a banner job and publishes the
// bitmap of the latest edit once it has been rendered.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tomgalvin.uk/phogobanner/internal/banner"
	"tomgalvin.uk/phogobanner/internal/render"
)

const DefaultDebounce = 300 * time.Millisecond

// Renderer is the render pipeline as seen by the coordinator
type Renderer interface {
	Render(ctx context.Context, job banner.Job) (*render.Result, error)
}

type Options struct {
	// Debounce is the quiet period after an edit before rendering starts
	Debounce time.Duration
	Logger   *slog.Logger
	// OnCommit is called, outside any lock, each time a bitmap is committed
	OnCommit func(*render.Result)
}

type request struct {
	seq uint64
	job banner.Job
}

// Coordinator owns the render state of a single banner job. Each job gets
// its own Coordinator; nothing is shared between them.
type Coordinator struct {
	renderer Renderer
	opts     Options
	logger   *slog.Logger

	mu sync.Mutex
	// seq of the newest request; anything older is stale
	seq          uint64
	committedSeq uint64
	timer        *time.Timer
	// cancels the render in flight, nil when idle
	cancel  context.CancelFunc
	running bool
	// a debounce timer is armed for the newest request
	scheduled bool
	queued    *request
	current   *render.Result
	closed    bool
	idle      *sync.Cond
}

func New(r Renderer, opts Options) *Coordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Coordinator{
		renderer: r,
		opts:     opts,
		logger:   opts.Logger,
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// OnContentChanged schedules a render of job after the debounce period. A
// newer call before then replaces it, and a newer call while it is rendering
// cancels that render so its result is never committed.
func (c *Coordinator) OnContentChanged(job banner.Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.seq++
	req := &request{seq: c.seq, job: job}

	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.queued = nil
	c.scheduled = true
	c.timer = time.AfterFunc(c.opts.Debounce, func() {
		c.fire(req)
	})
}

func (c *Coordinator) fire(req *request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || req.seq != c.seq {
		return
	}
	c.scheduled = false
	if c.running {
		// the render in flight has already been cancelled, run this one as
		// soon as it returns
		c.queued = req
		return
	}
	c.start(req)
}

// start must be called with mu held
func (c *Coordinator) start(req *request) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	go c.run(ctx, cancel, req)
}

func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, req *request) {
	res, err := c.renderer.Render(ctx, req.job)
	cancel()

	c.mu.Lock()
	committed := false
	switch {
	case err != nil && ctx.Err() != nil:
		c.logger.Debug("Discarded cancelled render", "job", req.job.ID, "seq", req.seq)
	case err != nil:
		c.logger.Error("Couldn't render banner", "job", req.job.ID, "error", err)
	case req.seq != c.seq || req.seq <= c.committedSeq || c.closed:
		c.logger.Debug("Discarded stale render", "job", req.job.ID, "seq", req.seq, "latest", c.seq)
	default:
		c.current = res
		c.committedSeq = req.seq
		committed = true
	}

	c.cancel = nil
	c.running = false
	if next := c.queued; next != nil && !c.closed {
		c.queued = nil
		c.start(next)
	} else {
		c.idle.Broadcast()
	}
	c.mu.Unlock()

	if committed && c.opts.OnCommit != nil {
		c.opts.OnCommit(res)
	}
}

// CurrentBitmap returns the last committed render, if there is one
func (c *Coordinator) CurrentBitmap() (*render.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Pending reports whether an edit is waiting to be rendered or is rendering
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduled || c.running || c.queued != nil
}

// Close stops any pending or running render and waits for a running render
// to return. No commits happen after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.scheduled = false
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.queued = nil
	for c.running {
		c.idle.Wait()
	}
}

package client

import (
	"context"
	"errors"
	"log"
	"sync"

	"clinicstock/backend/internal/events"
	"clinicstock/backend/internal/reconcile"
)

type CollectionOptions[T any] struct {
	Topic string
	Match func(T) bool
	ID    func(T) int64
	// Page is the page the view shows, starting at 1.
	Page  int
	Fetch func(ctx context.Context) ([]T, error)
	// Stats recomputes aggregate counters from the server. It runs after
	// every event, whatever happened to the list.
	Stats    func(ctx context.Context) error
	OnChange func(items []T)
}

// Collection is a local copy of one filtered page that follows the
// notifications of its topic. Handle must be called from a single goroutine.
type Collection[T any] struct {
	opts   CollectionOptions[T]
	latest *Latest
	statWG sync.WaitGroup

	statMu      sync.Mutex
	statRunning bool
	statRerun   bool

	mu    sync.Mutex
	items []T
	stale bool
	live  bool
}

func NewCollection[T any](opts CollectionOptions[T]) *Collection[T] {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Match == nil {
		opts.Match = func(T) bool { return true }
	}
	return &Collection[T]{
		opts:   opts,
		latest: NewLatest(),
		stale:  true,
		live:   true,
	}
}

func (c *Collection[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Collection[T]) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Refresh replaces the local copy with a fresh fetch. Overlapping refreshes
// resolve to the newest one.
func (c *Collection[T]) Refresh(ctx context.Context) error {
	items, err := Run(ctx, c.latest, c.opts.Topic, c.opts.Fetch)
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.items = items
	c.stale = false
	c.mu.Unlock()

	c.changed(items)
	c.refreshStats(ctx)
	return nil
}

func (c *Collection[T]) Handle(ctx context.Context, n Notification) error {
	if n.Message == nil {
		c.mu.Lock()
		c.live = n.State == StateLive
		if !c.live {
			c.stale = true
		}
		refetch := c.live && c.stale
		c.mu.Unlock()

		if refetch {
			return c.Refresh(ctx)
		}
		return nil
	}

	if n.Topic != c.opts.Topic {
		return nil
	}
	defer c.refreshStats(ctx)

	err := c.apply(*n.Message)
	var stale *StaleViewError
	if errors.As(err, &stale) {
		c.mu.Lock()
		c.stale = true
		live := c.live
		c.mu.Unlock()
		if !live {
			return nil
		}
		return c.Refresh(ctx)
	}
	return err
}

func (c *Collection[T]) apply(msg events.Message) error {
	c.mu.Lock()
	if c.stale {
		c.mu.Unlock()
		return &StaleViewError{Topic: c.opts.Topic, Reason: "view awaiting refetch"}
	}

	ev, err := reconcile.Decode[T](msg)
	if err != nil {
		c.mu.Unlock()
		return &StaleViewError{Topic: c.opts.Topic, Reason: "undecodable event", Err: err}
	}

	res := reconcile.Apply(c.items, ev, c.opts.Match, c.opts.ID, c.opts.Page)
	if res.Stale {
		c.mu.Unlock()
		return &StaleViewError{Topic: c.opts.Topic, Reason: "event shifts page boundaries"}
	}
	c.items = res.Items
	items := res.Items
	c.mu.Unlock()

	c.changed(items)
	return nil
}

// Run handles notifications in arrival order until ctx ends or notes closes.
func (c *Collection[T]) Run(ctx context.Context, notes <-chan Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notes:
			if !ok {
				return nil
			}
			if err := c.Handle(ctx, n); err != nil {
				log.Printf("[client] %s: %v", c.opts.Topic, err)
			}
		}
	}
}

func (c *Collection[T]) changed(items []T) {
	if c.opts.OnChange == nil {
		return
	}
	out := make([]T, len(items))
	copy(out, items)
	c.opts.OnChange(out)
}

// refreshStats recomputes aggregates in the background. Requests that arrive
// while a refresh is running collapse into one more run after it, so the last
// run always starts after the last request.
func (c *Collection[T]) refreshStats(ctx context.Context) {
	if c.opts.Stats == nil {
		return
	}
	c.statMu.Lock()
	if c.statRunning {
		c.statRerun = true
		c.statMu.Unlock()
		return
	}
	c.statRunning = true
	c.statWG.Add(1)
	c.statMu.Unlock()

	go func() {
		defer c.statWG.Done()
		for {
			if err := c.opts.Stats(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[client] %s stats refresh failed: %v", c.opts.Topic, err)
			}

			c.statMu.Lock()
			if !c.statRerun || ctx.Err() != nil {
				c.statRunning = false
				c.statRerun = false
				c.statMu.Unlock()
				return
			}
			c.statRerun = false
			c.statMu.Unlock()
		}
	}()
}

// WaitStats blocks until background stats refreshes have finished.
func (c *Collection[T]) WaitStats() {
	c.statWG.Wait()
}

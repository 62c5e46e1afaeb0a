package client

import (
	"context"
	"sync"
)

// Latest implements last-request-wins per key. Starting a request for a key
// cancels the one in flight for it, and a result that arrives after a newer
// request started is discarded.
type Latest struct {
	mu     sync.Mutex
	seq    map[string]uint64
	cancel map[string]context.CancelFunc
}

func NewLatest() *Latest {
	return &Latest{
		seq:    make(map[string]uint64),
		cancel: make(map[string]context.CancelFunc),
	}
}

func (l *Latest) begin(ctx context.Context, key string) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.cancel[key]; ok {
		prev()
	}
	l.seq[key]++
	l.cancel[key] = cancel
	return ctx, l.seq[key]
}

// end reports whether seq is still the newest request for key.
func (l *Latest) end(key string, seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq[key] != seq {
		return false
	}
	if cancel, ok := l.cancel[key]; ok {
		cancel()
		delete(l.cancel, key)
	}
	return true
}

// Run calls fn under l for key and returns ErrSuperseded if a newer request
// for the same key started before fn returned.
func Run[T any](ctx context.Context, l *Latest, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	runCtx, seq := l.begin(ctx, key)
	result, err := fn(runCtx)
	if !l.end(key, seq) {
		var zero T
		return zero, ErrSuperseded
	}
	return result, err
}

package manager

import (
	"context"
	"sync"
)

// Pending is the result handle of an asset request. Every caller that
// requests an id while it is queued or loading receives the same handle.
type Pending struct {
	id    string
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

func settled(id string, value any, err error) *Pending {
	p := newPending(id)
	p.settle(value, err)
	return p
}

func (p *Pending) settle(value any, err error) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.done)
	})
}

// ID returns the requested asset id
func (p *Pending) ID() string {
	return p.id
}

// Done is closed once the request settles
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request settles or ctx is done. Giving up on the
// wait does not cancel the load.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the
// request is still pending.
func (p *Pending) Result() (value any, err error, ok bool) {
	select {
	case <-p.done:
		return p.value, p.err, true
	default:
		return nil, nil, false
	}
}

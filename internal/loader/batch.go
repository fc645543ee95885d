package loader

import (
	"context"
	stderr "errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/assetpipe/assetpipe/pkg/errors"
	"github.com/assetpipe/assetpipe/pkg/types"
)

// Progress is a batch progress snapshot
type Progress struct {
	Loaded     int     `json:"loaded"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type progressTracker struct {
	// emitMu keeps deliveries in counter order
	emitMu    sync.Mutex
	mu        sync.Mutex
	loaded    int
	total     int
	nextID    int
	callbacks map[int]func(Progress)
	logger    *slog.Logger
}

func (p *progressTracker) snapshotLocked() Progress {
	s := Progress{Loaded: p.loaded, Total: p.total}
	if p.total > 0 {
		s.Percentage = float64(p.loaded) / float64(p.total) * 100
	}
	return s
}

// emit delivers s to every callback. Called without the lock.
func (p *progressTracker) emit(s Progress, callbacks []func(Progress)) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Error in progress callback", "panic", r)
				}
			}()
			cb(s)
		}()
	}
}

func (p *progressTracker) update(fn func()) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	fn()
	s := p.snapshotLocked()
	callbacks := make([]func(Progress), 0, len(p.callbacks))
	for id := 0; id < p.nextID; id++ {
		if cb, ok := p.callbacks[id]; ok {
			callbacks = append(callbacks, cb)
		}
	}
	p.mu.Unlock()

	p.emit(s, callbacks)
}

// OnProgress registers a batch progress callback and returns a function that
// removes it. Callbacks run in registration order; a panicking callback is
// logged and does not stop the others.
func (l *Loader) OnProgress(cb func(Progress)) (unsubscribe func()) {
	p := &l.progress
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.callbacks == nil {
		p.callbacks = make(map[int]func(Progress))
	}
	id := p.nextID
	p.nextID++
	p.callbacks[id] = cb

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.callbacks, id)
	}
}

// Progress returns the current batch progress
func (l *Loader) Progress() Progress {
	l.progress.mu.Lock()
	defer l.progress.mu.Unlock()
	return l.progress.snapshotLocked()
}

// ResetProgress zeroes the counters without notifying callbacks
func (l *Loader) ResetProgress() {
	l.progress.mu.Lock()
	defer l.progress.mu.Unlock()
	l.progress.loaded = 0
	l.progress.total = 0
}

// LoadBatch loads every descriptor concurrently, keyed by ID (URL when the
// ID is empty). Progress resets to 0/len(descs), is reported once up front
// and once per settled member. If any member fails the returned error is a
// *errors.BatchError and the map still holds the successes.
func (l *Loader) LoadBatch(ctx context.Context, descs []types.Descriptor) (map[string]any, error) {
	l.progress.update(func() {
		l.progress.loaded = 0
		l.progress.total = len(descs)
	})

	var (
		mu       sync.Mutex
		results  = make(map[string]any, len(descs))
		failures []errors.BatchFailure
	)

	var g errgroup.Group
	if l.cfg.BatchConcurrency > 0 {
		g.SetLimit(l.cfg.BatchConcurrency)
	}

	for _, d := range descs {
		g.Go(func() error {
			v, err := l.LoadByType(ctx, d.URL, d.Type)

			mu.Lock()
			if err != nil {
				failures = append(failures, errors.BatchFailure{
					Key:  d.Key(),
					URL:  d.URL,
					Type: d.Type,
					Err:  l.asLoadError(err, d),
				})
			} else {
				results[d.Key()] = v
			}
			mu.Unlock()

			l.progress.update(func() {
				if l.progress.loaded < l.progress.total {
					l.progress.loaded++
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		return results, nil
	}

	batchErr := errors.NewBatchError(results, failures)
	summary := make([]any, 0, len(batchErr.Failures))
	for _, f := range batchErr.Failures {
		summary = append(summary, map[string]any{"url": f.URL, "reason": string(f.Err.Reason)})
	}
	l.logger.Error("Batch load encountered failures", "failures", summary)

	return results, batchErr
}

func (l *Loader) asLoadError(err error, d types.Descriptor) *errors.LoadError {
	var le *errors.LoadError
	if stderr.As(err, &le) {
		return le
	}
	return errors.NewLoadError(d.Type, d.URL, l.cfg.MaxRetries, l.cfg.MaxRetries, errors.ReasonUnknown).WithCause(err)
}

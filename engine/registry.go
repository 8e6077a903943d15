package engine

import (
	"sync"

	"github.com/fz3go/engine/serverpath"
)

// invalidateCwdEvent is posted to every other engine's loop whenever a
// mutation (mkdir/rename/delete/rmdir) on this engine covers a path another
// engine might have cached as its current directory.
type invalidateCwdEvent struct {
	site serverpath.Site
	path serverpath.Path
}

// registry is the process-global engine list, guarded by its
// own mutex, never taken together with any other process-global lock.
type registry struct {
	mu      sync.Mutex
	engines map[*Engine]bool
}

var globalRegistry = &registry{engines: make(map[*Engine]bool)}

func (r *registry) add(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e] = true
}

func (r *registry) remove(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, e)
}

// broadcastInvalidate posts ev to every registered engine other than from.
// The targets are snapshotted under the lock, in no set order, and posted to
// after it is released. Each engine's loop queue is FIFO, so one engine
// receives invalidations in the order they were posted.
func (r *registry) broadcastInvalidate(from *Engine, ev invalidateCwdEvent) {
	r.mu.Lock()
	targets := make([]*Engine, 0, len(r.engines))
	for e := range r.engines {
		if e != from {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()
	for _, e := range targets {
		e.loop.Post(e, ev)
	}
}

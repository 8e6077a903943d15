// Package ratelimiter implements the token-bucket rate limiter
// shared across every socket of one engine: two independent buckets
// (inbound/outbound), replenished every tick and divided among registered
// objects, with unused tokens flowing to saturated objects up to a
// burst-tolerance cap. The token bookkeeping is the per-object counters
// kept here, with wake-on-availability events; the golang.org/x/time/rate
// limiter kept per direction is only updated by SetLimit and is not
// consulted when tokens are handed out.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Direction selects which of the two independent buckets to consult.
type Direction int

const (
	In Direction = iota
	Out
	numDirections
)

// Tick is the replenishment period.
const Tick = 250 * time.Millisecond

// Unlimited is the sentinel GetAvailableBytes returns for an unthrottled
// direction.
const Unlimited int64 = -1

// BurstTicks converts the "burst tolerance" setting {0,1,2} to the number
// of ticks' worth of tokens an object's bucket may accumulate (1, 2 or 5).
func BurstTicks(tolerance int) int {
	switch tolerance {
	case 0:
		return 1
	case 1:
		return 2
	default:
		return 5
	}
}

// Object is a registered consumer of one Limiter, typically one control
// socket's underlying connection.
type Object struct {
	l       *Limiter
	avail   [numDirections]int64
	waiting [numDirections]bool
}

// Limiter is a shared, per-engine rate limiter over two directions.
type Limiter struct {
	mu         sync.Mutex
	limit      [numDirections]int64 // bytes/sec, Unlimited = no cap
	burstTicks int
	objects    map[*Object]struct{}
	onWake     func(o *Object, dir Direction)
	underlying [numDirections]*rate.Limiter // mirrors the configured rate for callers that want rate.Limiter semantics directly
}

// New creates a Limiter with the given burst tolerance ({0, 1, 2}).
func New(burstTolerance int) *Limiter {
	l := &Limiter{
		burstTicks: BurstTicks(burstTolerance),
		objects:    make(map[*Object]struct{}),
	}
	for d := Direction(0); d < numDirections; d++ {
		l.limit[d] = Unlimited
	}
	return l
}

// SetOnWake installs the callback invoked when a previously-paused object
// (GetAvailableBytes returned 0) receives tokens again; the caller forwards
// this as a socket-readable/writable event.
func (l *Limiter) SetOnWake(f func(o *Object, dir Direction)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onWake = f
}

// SetLimit sets the bytes/sec cap for dir, or Unlimited to disable it.
func (l *Limiter) SetLimit(dir Direction, bytesPerSec int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit[dir] = bytesPerSec
	if bytesPerSec < 0 {
		l.underlying[dir] = nil
	} else {
		l.underlying[dir] = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	}
}

// Register adds a new consumer to the limiter.
func (l *Limiter) Register() *Object {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := &Object{l: l}
	for d := Direction(0); d < numDirections; d++ {
		o.avail[d] = l.limit[d]
	}
	l.objects[o] = struct{}{}
	return o
}

// Unregister removes o. Its unused tokens are discarded rather than handed
// to the remaining objects, so the next tick's per-object share shrinks
// back to what the configured rate actually allows, so removal mid-tick
// cannot produce a burst above the configured rate.
func (l *Limiter) Unregister(o *Object) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.objects, o)
}

// Tick replenishes both buckets and redistributes excess tokens. Call once
// per Tick interval, normally from an eventloop.Loop.Every timer.
func (l *Limiter) Tick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for d := Direction(0); d < numDirections; d++ {
		l.tickDirection(d)
	}
}

func (l *Limiter) tickDirection(d Direction) {
	limit := l.limit[d]
	n := len(l.objects)
	if n == 0 {
		return
	}
	if limit < 0 {
		for o := range l.objects {
			o.avail[d] = Unlimited
		}
		return
	}

	perTick := limit * int64(Tick) / int64(time.Second)
	share := perTick / int64(n)
	objCap := share * int64(l.burstTicks)

	var excess int64
	saturated := make([]*Object, 0, n)
	for o := range l.objects {
		newAvail := o.avail[d] + share
		if newAvail > objCap {
			excess += newAvail - objCap
			newAvail = objCap
		} else {
			saturated = append(saturated, o)
		}
		wasPaused := o.avail[d] <= 0
		o.avail[d] = newAvail
		if wasPaused && newAvail > 0 && l.onWake != nil {
			l.onWake(o, d)
		}
	}
	// One redistribution pass: split any excess among objects that still
	// have headroom under their cap.
	if excess > 0 && len(saturated) > 0 {
		per := excess / int64(len(saturated))
		for _, o := range saturated {
			c := share * int64(l.burstTicks)
			o.avail[d] += per
			if o.avail[d] > c {
				o.avail[d] = c
			}
		}
	}
}

// GetAvailableBytes returns the bytes o may transfer in dir right now:
// Unlimited (-1) for no cap, 0 if paused (caller should register interest
// and treat the next read/write as EAGAIN), or a positive budget.
func (o *Object) GetAvailableBytes(dir Direction) int64 {
	o.l.mu.Lock()
	defer o.l.mu.Unlock()
	return o.avail[dir]
}

// Consume deducts n bytes from o's budget for dir after a successful
// read/write. Clamped at zero; it never borrows from a future tick.
func (o *Object) Consume(dir Direction, n int64) {
	o.l.mu.Lock()
	defer o.l.mu.Unlock()
	if o.avail[dir] < 0 { // unlimited
		return
	}
	o.avail[dir] -= n
	if o.avail[dir] < 0 {
		o.avail[dir] = 0
	}
}

// Package transferstatus implements the atomic progress counter and
// rate-limited snapshotting for transfers: a single producer updates an
// atomic delta without taking a mutex, a mutex-guarded snapshot publishes
// it, and a three-state send-gate ensures at most one status notification
// is in flight at a time.
package transferstatus

import (
	"sync"
	"sync/atomic"
	"time"
)

// gate states.
const (
	gateIdle  int32 = 0
	gateSent  int32 = 1
	gateDirty int32 = 2
)

// Snapshot is a point-in-time view of one transfer's progress.
type Snapshot struct {
	StartTime     time.Time
	TotalSize     int64 // -1 if unknown
	StartOffset   int64
	CurrentOffset int64
	ListMode      bool
	MadeProgress  bool
}

// Status tracks one active transfer. Zero value is not usable; use New.
type Status struct {
	delta int64 // atomic, bytes transferred since the last merge

	mu       sync.Mutex
	snap     Snapshot
	gate     int32
	onNotify func()
}

// New starts a Status for a transfer of the given total size (-1 if
// unknown) and start offset (for resumed transfers).
func New(totalSize, startOffset int64, listMode bool) *Status {
	return &Status{
		snap: Snapshot{
			StartTime:     time.Now(),
			TotalSize:     totalSize,
			StartOffset:   startOffset,
			CurrentOffset: startOffset,
			ListMode:      listMode,
		},
	}
}

// SetNotifyFunc installs the callback invoked (at most once until the next
// Get) when Update transitions the gate from idle to dirty.
func (s *Status) SetNotifyFunc(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotify = f
}

// Update accumulates n bytes via an atomic add, which takes no lock. On the
// idle-to-dirty edge it also takes the mutex briefly to read the notify
// callback before calling it.
func (s *Status) Update(n int64) {
	atomic.AddInt64(&s.delta, n)
	if atomic.CompareAndSwapInt32(&s.gate, gateIdle, gateDirty) {
		s.mu.Lock()
		f := s.onNotify
		s.mu.Unlock()
		if f != nil {
			f()
		}
		return
	}
	atomic.StoreInt32(&s.gate, gateDirty)
}

// merge folds the accumulated delta into the published snapshot. Must be
// called with s.mu held.
func (s *Status) merge() {
	d := atomic.SwapInt64(&s.delta, 0)
	if d != 0 {
		s.snap.CurrentOffset += d
		s.snap.MadeProgress = true
	}
}

// Get publishes the current snapshot and reports whether it changed since
// the last Get, implementing the three-state gate: dirty (2)
// flips to sent (1), merges the delta, and reports changed=true; sent (1)
// flips to idle (0) with nothing new, reporting changed=false; idle (0)
// stays idle and reports changed=false.
func (s *Status) Get() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch atomic.LoadInt32(&s.gate) {
	case gateDirty:
		atomic.StoreInt32(&s.gate, gateSent)
		s.merge()
		return s.snap, true
	case gateSent:
		atomic.StoreInt32(&s.gate, gateIdle)
		return s.snap, false
	default:
		return s.snap, false
	}
}

// Elapsed is a small convenience used by the engine's outcome summaries
// so status messages can summarise bytes transferred and elapsed time.
func (sn Snapshot) Elapsed() time.Duration { return time.Since(sn.StartTime) }

// BytesTransferred returns the bytes moved so far, regardless of total size.
func (sn Snapshot) BytesTransferred() int64 { return sn.CurrentOffset - sn.StartOffset }

// Package oplock implements the process-global operation lock manager:
// advisory locks on (server, path, reason) used to serialise concurrent
// refreshes of the same listing across engines.
package oplock

import (
	"sync"

	"github.com/fz3go/engine/serverpath"
)

// Reason identifies why a lock is held.
type Reason int

const (
	ReasonList Reason = iota
	ReasonMkdir
)

// Owner identifies the control socket a lock belongs to, for routing the
// lock_obtained wakeup event. Implementations typically use the control
// socket's own pointer identity.
type Owner interface {
	// LockObtained is called when a lock this Owner was waiting on becomes
	// obtainable. Must not block.
	LockObtained(l *Lock)
}

type lockInfo struct {
	owner     Owner
	site      serverpath.Site
	path      serverpath.Path
	reason    Reason
	inclusive bool
	waiting   bool
	released  bool
}

// Lock is an advisory handle on (server, path, reason). The zero Lock is
// not held by anything; Lock.Held reports false for it.
type Lock struct {
	mgr *Manager
	li  *lockInfo
}

// Held reports whether the handle refers to an actual lock entry.
func (l *Lock) Held() bool { return l != nil && l.li != nil }

// Waiting reports whether the lock is still queued behind another holder.
func (l *Lock) Waiting() bool {
	if !l.Held() {
		return false
	}
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	return l.li.waiting
}

// Release marks the lock released. Because release ordering must be
// preserved, the entry is only
// compacted out of the manager's bookkeeping once it is the tail of its
// site's lock list; otherwise it stays marked released and is reaped by a
// later Release call that does reach the tail.
func (l *Lock) Release() {
	if !l.Held() {
		return
	}
	l.mgr.unlock(l)
}

// Manager is the process-global lock manager. Use New; share one instance
// across every Engine.
type Manager struct {
	mu    sync.Mutex
	sites map[string][]*lockInfo // keyed by serverpath "same-content" key
}

func New() *Manager {
	return &Manager{sites: make(map[string][]*lockInfo)}
}

func siteKey(s serverpath.Site) string {
	// Same-content comparison: two engines on the same server share locks.
	return s.Host + "|" + itoa(s.Port) + "|" + itoa(int(s.Protocol)) + "|" + s.User + "|" + itoa(s.TimezoneOffsetMin) + "|" + s.Encoding
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func overlaps(a, b *lockInfo) bool {
	if a.reason != b.reason {
		return false
	}
	if a.inclusive || b.inclusive {
		return a.path.IsParentOf(b.path, true, true) || b.path.IsParentOf(a.path, true, true)
	}
	return a.path.String() == b.path.String() && a.path.Type() == b.path.Type()
}

// Lock requests an advisory lock on (server, path, reason). It succeeds
// immediately (Waiting()==false) unless another, not-yet-released engine
// holds an active overlapping lock, in which case it is created in the
// waiting state and the owner's LockObtained is invoked once it can proceed.
func (m *Manager) Lock(owner Owner, site serverpath.Site, path serverpath.Path, reason Reason, inclusive bool) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := siteKey(site)
	li := &lockInfo{owner: owner, site: site, path: path, reason: reason, inclusive: inclusive}

	blocked := false
	for _, other := range m.sites[key] {
		if other.released {
			continue
		}
		if overlaps(li, other) {
			blocked = true
			break
		}
	}
	li.waiting = blocked
	m.sites[key] = append(m.sites[key], li)
	return &Lock{mgr: m, li: li}
}

// unlock marks li released and, if it is now the tail of its site's list
// (no later entry still references it as a blocker), compacts the trailing
// run of released entries off the end; it then wakes any waiter that is now
// obtainable.
func (m *Manager) unlock(l *Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := siteKey(l.li.site)
	list := m.sites[key]
	l.li.released = true

	// Compact trailing released entries.
	n := len(list)
	for n > 0 && list[n-1].released {
		n--
	}
	if n < len(list) {
		list = list[:n]
		m.sites[key] = list
	}

	// Re-evaluate waiters in order: the first still-waiting entry whose
	// blockers are all released/compacted away becomes obtainable.
	for _, li := range list {
		if !li.waiting {
			continue
		}
		stillBlocked := false
		for _, other := range list {
			if other == li || other.released {
				continue
			}
			if overlaps(li, other) {
				stillBlocked = true
				break
			}
		}
		if !stillBlocked {
			li.waiting = false
			lk := &Lock{mgr: m, li: li}
			if li.owner != nil {
				li.owner.LockObtained(lk)
			}
		}
	}
}

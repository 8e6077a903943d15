package engine

import (
	"sync"
	"time"

	"github.com/fz3go/engine/serverpath"
)

// failedLoginRecord is one entry of the process-global failed-login list:
// (site, time, critical-flag).
type failedLoginRecord struct {
	site     serverpath.Site
	at       time.Time
	critical bool
}

// failedLoginList is the process-global, mutex-guarded registry every
// engine in the process consults before reconnecting.
// login list... process-global and each guarded by its own mutex").
type failedLoginList struct {
	mu      sync.Mutex
	records []failedLoginRecord
}

var globalFailedLogins = &failedLoginList{}

// record appends a new entry, pruning anything older than window to bound
// growth.
func (l *failedLoginList) record(site serverpath.Site, critical bool, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.records = append(l.records, failedLoginRecord{site: site, at: now, critical: critical})
	kept := l.records[:0]
	for _, r := range l.records {
		if now.Sub(r.at) <= window {
			kept = append(kept, r)
		}
	}
	l.records = kept
}

// mostRecent returns the most recent matching record for site within
// window: a matching host/port record if critical, otherwise an identical
// (SameResource) site.
func (l *failedLoginList) mostRecent(site serverpath.Site, window time.Duration) (failedLoginRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var best failedLoginRecord
	found := false
	now := time.Now()
	for _, r := range l.records {
		if now.Sub(r.at) > window {
			continue
		}
		match := false
		if r.critical {
			match = r.site.Host == site.Host && r.site.Port == site.Port
		} else {
			match = r.site.SameResource(site)
		}
		if match && (!found || r.at.After(best.at)) {
			best = r
			found = true
		}
	}
	return best, found
}

// retryCount reports how many matching records fall within window, for the
// retry-count-below-configured-maximum check before rearming.
func (l *failedLoginList) retryCount(site serverpath.Site, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	n := 0
	for _, r := range l.records {
		if now.Sub(r.at) > window {
			continue
		}
		if r.critical {
			if r.site.Host == site.Host && r.site.Port == site.Port {
				n++
			}
		} else if r.site.SameResource(site) {
			n++
		}
	}
	return n
}

package dircache

import (
	"fmt"
	"sync"

	"github.com/fz3go/engine/serverpath"
)

// PathCache maps (server, parent, subdir) → resolved canonical path. It is
// a thin, much smaller sibling of Cache and
// must be invalidated whenever Cache is invalidated for the same path.
type PathCache struct {
	mu sync.Mutex
	m  map[string]serverpath.Path
}

func NewPathCache() *PathCache {
	return &PathCache{m: make(map[string]serverpath.Path)}
}

func pcKey(site serverpath.Site, parent serverpath.Path, subdir string) string {
	return fmt.Sprintf("%s|%s|%s", serverKey(site), pathKey(parent), subdir)
}

// Store records that parent/subdir resolves to canonical.
func (p *PathCache) Store(site serverpath.Site, parent serverpath.Path, subdir string, canonical serverpath.Path) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[pcKey(site, parent, subdir)] = canonical
}

// Lookup returns the canonical path previously stored for (site, parent,
// subdir), if any.
func (p *PathCache) Lookup(site serverpath.Site, parent serverpath.Path, subdir string) (serverpath.Path, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[pcKey(site, parent, subdir)]
	return v, ok
}

// InvalidateServer drops every entry for site, mirroring Cache's
// InvalidateServer so the two caches stay consistent: a path resolution
// must never outlive the listing it was derived from.
func (p *PathCache) InvalidateServer(site serverpath.Site) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := serverKey(site) + "|"
	for k := range p.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(p.m, k)
		}
	}
}

// InvalidatePath drops every entry whose parent is path (the common case:
// a listing of path was invalidated, so cached subdir resolutions under it
// may be stale).
func (p *PathCache) InvalidatePath(site serverpath.Site, path serverpath.Path) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := fmt.Sprintf("%s|%s|", serverKey(site), pathKey(path))
	for k := range p.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(p.m, k)
		}
	}
}

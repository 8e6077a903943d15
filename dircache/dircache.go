// Package dircache implements the process-global directory cache and path
// cache: a per-server mapping path → listing with TTL and LRU
// eviction, "unsure" staleness markers, and the path-resolution cache that
// rides alongside it. One Cache instance is shared by every engine in the
// process, guarded by a single mutex.
package dircache

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fz3go/engine/serverpath"
)

// EntryFlags classifies a directory entry.
type EntryFlags uint8

const (
	FlagDir EntryFlags = 1 << iota
	FlagLink
	FlagUnsure
)

// DirEntry is one row of a Listing.
type DirEntry struct {
	Name        string
	Size        int64 // -1 means unknown
	ModTime     *time.Time
	Permissions string
	OwnerGroup  string
	Flags       EntryFlags
	Target      string // set when Flags&FlagLink != 0
}

func (e DirEntry) IsDir() bool  { return e.Flags&FlagDir != 0 }
func (e DirEntry) IsLink() bool { return e.Flags&FlagLink != 0 }
func (e DirEntry) unsure() bool { return e.Flags&FlagUnsure != 0 }

// ListingFlags is the bitmask of "unsure"/shape flags a Listing carries.
type ListingFlags uint16

const (
	UnsureUnknown ListingFlags = 1 << iota
	UnsureDirChanged
	UnsureFileChanged
	UnsureDirAdded
	UnsureFileAdded
	UnsureInvalid
	ListingHasDirs
)

// unsureMask covers the staleness flags only; shape flags like
// ListingHasDirs do not make a listing unsure.
const unsureMask = UnsureUnknown | UnsureDirChanged | UnsureFileChanged |
	UnsureDirAdded | UnsureFileAdded | UnsureInvalid

// Listing is a directory's contents as known to the client.
type Listing struct {
	Path          serverpath.Path
	Entries       []DirEntry
	FirstListTime time.Time
	Flags         ListingFlags
}

func (l Listing) clone() Listing {
	out := l
	out.Entries = append([]DirEntry(nil), l.Entries...)
	return out
}

func (l *Listing) indexOf(name string, caseSensitive bool) int {
	for i, e := range l.Entries {
		if segEq(e.Name, name, caseSensitive) {
			return i
		}
	}
	return -1
}

func segEq(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// Pruning thresholds.
const (
	maxListings           = 50000
	maxFilesHigh          = 1000000
	maxFilesHighMinListed = 1000
	maxFilesLow           = 5000000
	maxFilesLowMinListed  = 100
)

const (
	minTTL     = 30 * time.Second
	maxTTL     = 24 * time.Hour
	defaultTTL = 60 * time.Second
)

// ClampTTL bounds the lookup staleness window to [30s, 24h].
func ClampTTL(d time.Duration) time.Duration {
	if d < minTTL {
		return minTTL
	}
	if d > maxTTL {
		return maxTTL
	}
	return d
}

type cacheEntry struct {
	listing Listing
	modTime time.Time
	lru     *list.Element
	rec     *serverRecord
	key     string
}

type serverRecord struct {
	site  serverpath.Site
	paths map[string]*cacheEntry
}

// Cache is the process-global directory cache. The zero value is not
// usable; use New. A single Cache is meant to be shared by every Engine in
// the process.
type Cache struct {
	mu           sync.Mutex
	servers      map[string]*serverRecord
	lru          *list.List // MRU at front
	totalFiles   int64
	totalListing int
	ttl          time.Duration
}

func New() *Cache {
	return &Cache{
		servers: make(map[string]*serverRecord),
		lru:     list.New(),
		ttl:     defaultTTL,
	}
}

// SetTTL installs the lookup staleness window, clamped to [30s, 24h].
func (c *Cache) SetTTL(d time.Duration) { c.ttl = ClampTTL(d) }

func serverKey(s serverpath.Site) string {
	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var extra strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&extra, "%s=%s;", k, s.Extra[k])
	}
	return fmt.Sprintf("%s|%d|%d|%s|%v|%s|%s", s.Host, s.Port, s.Protocol, s.User, s.PostLoginCommands, s.Encoding, extra.String())
}

func pathKey(p serverpath.Path) string {
	return fmt.Sprintf("%d:%s", p.Type(), p.String())
}

func (c *Cache) recordFor(site serverpath.Site, create bool) *serverRecord {
	k := serverKey(site)
	rec, ok := c.servers[k]
	if !ok {
		if !create {
			return nil
		}
		rec = &serverRecord{site: site, paths: make(map[string]*cacheEntry)}
		c.servers[k] = rec
	}
	return rec
}

func caseSensitive(typ serverpath.ServerType) bool {
	return typ == serverpath.ServerUnix
}

// Store replaces any existing listing for listing.Path, updates its
// modification time, and threads it into the global LRU at the MRU
// position.
func (c *Cache) Store(site serverpath.Site, listing Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordFor(site, true)
	k := pathKey(listing.Path)
	if old, ok := rec.paths[k]; ok {
		c.totalFiles -= int64(len(old.listing.Entries))
		c.lru.Remove(old.lru)
		c.totalListing--
	}
	ce := &cacheEntry{listing: listing.clone(), modTime: time.Now(), rec: rec, key: k}
	if ce.listing.FirstListTime.IsZero() {
		ce.listing.FirstListTime = ce.modTime
	}
	ce.lru = c.lru.PushFront(ce)
	rec.paths[k] = ce
	c.totalFiles += int64(len(listing.Entries))
	c.totalListing++
	c.prune()
}

// Lookup returns the cached listing for (site, path), moving it to the MRU
// position. outdated reports whether the TTL has elapsed. When allowUnsure
// is false, a listing carrying any unsure flag is reported as not found.
func (c *Cache) Lookup(site serverpath.Site, path serverpath.Path, allowUnsure bool) (listing Listing, outdated bool, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordFor(site, false)
	if rec == nil {
		return Listing{}, false, false
	}
	ce, ok := rec.paths[pathKey(path)]
	if !ok {
		return Listing{}, false, false
	}
	if !allowUnsure && ce.listing.Flags&unsureMask != 0 {
		return Listing{}, false, false
	}
	c.lru.MoveToFront(ce.lru)
	outdated = time.Since(ce.listing.FirstListTime) > c.ttl
	return ce.listing.clone(), outdated, true
}

// LookupFlags is the bitset LookupFile returns.
type LookupFlags uint8

const (
	LFFound LookupFlags = 1 << iota
	LFOutdated
	LFDirExists
	LFMatchedCase
)

// LookupFile looks up name within the cached listing of path, falling back
// to a case-insensitive match when the server is case-insensitive or
// forceCaseInsensitive is set.
func (c *Cache) LookupFile(site serverpath.Site, path serverpath.Path, name string, forceCaseInsensitive bool) (LookupFlags, DirEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordFor(site, false)
	if rec == nil {
		return 0, DirEntry{}
	}
	ce, ok := rec.paths[pathKey(path)]
	if !ok {
		return 0, DirEntry{}
	}
	c.lru.MoveToFront(ce.lru)

	var flags LookupFlags
	if time.Since(ce.listing.FirstListTime) > c.ttl {
		flags |= LFOutdated
	}
	flags |= LFDirExists

	cs := caseSensitive(path.Type()) && !forceCaseInsensitive
	if i := ce.listing.indexOf(name, true); i >= 0 {
		flags |= LFFound | LFMatchedCase
		return flags, ce.listing.Entries[i]
	}
	if !cs {
		if i := ce.listing.indexOf(name, false); i >= 0 {
			flags |= LFFound
			return flags, ce.listing.Entries[i]
		}
	}
	return flags, DirEntry{}
}

// UpdateFile marks the entry named name within path's listing unsure,
// appending a new unsure entry if mayCreate is true and no entry (exact or
// case-insensitive) was found.
func (c *Cache) UpdateFile(site serverpath.Site, path serverpath.Path, name string, mayCreate, isDir bool, size *int64, owner *string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordFor(site, false)
	if rec == nil {
		return
	}
	cs := caseSensitive(path.Type())
	pk := pathKey(path)
	for k, ce := range rec.paths {
		if !strings.EqualFold(k, pk) {
			continue
		}
		exact := ce.listing.indexOf(name, true)
		idx := exact
		if idx < 0 {
			idx = ce.listing.indexOf(name, false)
		}
		if idx >= 0 {
			e := &ce.listing.Entries[idx]
			e.Flags |= FlagUnsure
			if size != nil {
				e.Size = *size
			}
			if owner != nil {
				e.OwnerGroup = *owner
			}
			if isDir {
				e.Flags |= FlagDir
			}
			if isDir {
				ce.listing.Flags |= UnsureDirChanged
			} else {
				ce.listing.Flags |= UnsureFileChanged
			}
		} else if mayCreate {
			e := DirEntry{Name: name, Size: -1, Flags: FlagUnsure}
			if size != nil {
				e.Size = *size
			}
			if owner != nil {
				e.OwnerGroup = *owner
			}
			if isDir {
				e.Flags |= FlagDir
				ce.listing.Flags |= UnsureDirAdded
			} else {
				ce.listing.Flags |= UnsureFileAdded
			}
			ce.listing.Entries = append(ce.listing.Entries, e)
			c.totalFiles++
		}
	}
	_ = cs
}

// InvalidateFile marks matching entries unsure and, when isDir is true,
// marks every descendant listing of path+name as UnsureUnknown.
func (c *Cache) InvalidateFile(site serverpath.Site, path serverpath.Path, name string, isDir bool) {
	c.UpdateFile(site, path, name, false, isDir, nil, nil)
	if !isDir {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	target := path.ChangePath(name)
	rec := c.recordFor(site, false)
	if rec == nil {
		return
	}
	tk := pathKey(target)
	for k, ce := range rec.paths {
		if k == tk || samePathPrefix(k, tk) {
			if k != tk {
				ce.listing.Flags |= UnsureUnknown
			}
		}
	}
}

// RemoveDir deletes the exact listing for path+name and every descendant
// listing, then marks the parent's entry for name removed.
func (c *Cache) RemoveDir(site serverpath.Site, path serverpath.Path, name string, targetPath *serverpath.Path) {
	c.mu.Lock()
	rec := c.recordFor(site, false)
	if rec == nil {
		c.mu.Unlock()
		return
	}
	target := path.ChangePath(name)
	if targetPath != nil {
		target = *targetPath
	}
	tk := pathKey(target)
	for k, ce := range rec.paths {
		if k == tk || samePathPrefix(k, tk) {
			c.lru.Remove(ce.lru)
			c.totalFiles -= int64(len(ce.listing.Entries))
			c.totalListing--
			delete(rec.paths, k)
		}
	}
	c.mu.Unlock()
	c.removeFileEntry(site, path, name)
}

func (c *Cache) removeFileEntry(site serverpath.Site, path serverpath.Path, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordFor(site, false)
	if rec == nil {
		return
	}
	ce, ok := rec.paths[pathKey(path)]
	if !ok {
		return
	}
	if i := ce.listing.indexOf(name, true); i >= 0 {
		c.totalFiles--
		ce.listing.Entries = append(ce.listing.Entries[:i], ce.listing.Entries[i+1:]...)
	}
}

// Rename updates a cached entry's name in place when both from and to are
// the same directory and that directory is cached; otherwise it invalidates
// the entire server to be safe.
func (c *Cache) Rename(site serverpath.Site, fromPath serverpath.Path, fromName string, toPath serverpath.Path, toName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.recordFor(site, false)
	if rec == nil {
		return
	}
	if pathKey(fromPath) == pathKey(toPath) {
		if ce, ok := rec.paths[pathKey(fromPath)]; ok {
			if i := ce.listing.indexOf(fromName, true); i >= 0 {
				ce.listing.Entries[i].Name = toName
				ce.listing.Flags |= UnsureFileChanged
				return
			}
		}
	}
	c.invalidateServerLocked(rec)
}

// InvalidateServer marks every cached listing for site UnsureUnknown.
func (c *Cache) InvalidateServer(site serverpath.Site) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.recordFor(site, false)
	if rec == nil {
		return
	}
	c.invalidateServerLocked(rec)
}

func (c *Cache) invalidateServerLocked(rec *serverRecord) {
	for _, ce := range rec.paths {
		ce.listing.Flags |= UnsureUnknown
	}
}

// prune evicts LRU-tail entries until the process-wide totals respect the
// thresholds above. Must be called with mu held.
func (c *Cache) prune() {
	for c.overBudget() {
		back := c.lru.Back()
		if back == nil {
			return
		}
		ce := back.Value.(*cacheEntry)
		c.lru.Remove(back)
		delete(ce.rec.paths, ce.key)
		c.totalFiles -= int64(len(ce.listing.Entries))
		c.totalListing--
	}
}

func (c *Cache) overBudget() bool {
	if c.totalListing > maxListings {
		return true
	}
	if c.totalFiles > maxFilesHigh && c.totalListing >= maxFilesHighMinListed {
		return true
	}
	if c.totalFiles > maxFilesLow && c.totalListing >= maxFilesLowMinListed {
		return true
	}
	return false
}

func samePathPrefix(entryKey, prefixKey string) bool {
	if entryKey == prefixKey {
		return true
	}
	return strings.HasPrefix(entryKey, prefixKey+"/") || strings.HasPrefix(entryKey, prefixKey+"\\")
}

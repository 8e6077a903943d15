package ftp

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/dircache"
	"github.com/fz3go/engine/oplock"
	"github.com/fz3go/engine/serverpath"
)

// listState enumerates the list operation's own small state machine:
// change directory, acquire the list lock, check the cache, then either
// reuse the cached listing or issue MLSD/LIST.
type listState int

const (
	lsChangeDir listState = iota
	lsAcquireLock
	lsCheckCache
	lsRunCommand
	lsDone
)

// ListOp implements the directory-listing operation.
type ListOp struct {
	sock   *Socket
	cache  *dircache.Cache
	locks  *oplock.Manager
	site   serverpath.Site
	path   serverpath.Path
	owner  oplock.Owner
	refresh bool

	state          listState
	lock           *oplock.Lock
	timeBeforeLock time.Time
	listing        dircache.Listing
	mlsdUsed       bool

	lastReply Reply
	result    func(dircache.Listing, control.Code)
}

// NewListOp builds a list operation for path on site, consulting cache and
// locks, reporting the final listing/code via result.
func NewListOp(sock *Socket, cache *dircache.Cache, locks *oplock.Manager, owner oplock.Owner, site serverpath.Site, path serverpath.Path, refresh bool, result func(dircache.Listing, control.Code)) *ListOp {
	return &ListOp{sock: sock, cache: cache, locks: locks, owner: owner, site: site, path: path, refresh: refresh, result: result}
}

func (o *ListOp) ID() control.OpID { return control.OpList }
func (o *ListOp) TopLevel() bool   { return true }

func (o *ListOp) Send(ctx context.Context, f *control.Frame) control.Code {
	switch o.state {
	case lsChangeDir:
		o.sock.SendCommand("CWD " + o.path.String())
		o.state = lsAcquireLock
		return control.WouldBlock
	case lsAcquireLock:
		o.timeBeforeLock = time.Now()
		o.lock = o.locks.Lock(o.owner, o.site, o.path, oplock.ReasonList, false)
		f.Lock = o.lock
		o.state = lsCheckCache
		return control.Continue
	case lsCheckCache:
		if listing, outdated, found := o.cache.Lookup(o.site, o.path, true); found {
			// Another engine holding the lock may have refreshed this
			// listing while we waited on it; a listing newer than our
			// lock attempt is fresh enough even for an explicit refresh.
			if !listing.FirstListTime.Before(o.timeBeforeLock) {
				o.listing = listing
				o.state = lsDone
				return control.Continue
			}
			if !o.refresh && !outdated {
				o.listing = listing
				o.state = lsDone
				return control.Continue
			}
		}
		o.state = lsRunCommand
		return control.Continue
	case lsRunCommand:
		cmd := "LIST"
		o.mlsdUsed = o.sock.features.Has("MLST")
		if o.mlsdUsed {
			cmd = "MLSD"
		}
		child := NewRawTransferOp(o.sock, cmd, TypeASCII, ModePassive, o.sock.features.Has("EPSV"), 0, false, o.onListingData)
		o.sock.Stack.Push(child)
		return control.Continue
	case lsDone:
		if o.result != nil {
			o.result(o.listing, control.Ok)
		}
		return control.Ok
	default:
		return control.Ok
	}
}

func (o *ListOp) SetReply(r Reply) { o.lastReply = r }

func (o *ListOp) ParseResponse(ctx context.Context, f *control.Frame) control.Code {
	r := o.lastReply
	switch o.state {
	case lsAcquireLock:
		if r.Code/100 >= 4 {
			return control.Error | control.NotFound
		}
		return control.Continue
	default:
		return control.Ok
	}
}

// FeedListingLines parses raw data-channel lines (MLSD facts or LIST Unix
// format) into the in-progress listing, called by the data-channel reader
// as bytes arrive.
func (o *ListOp) FeedListingLines(lines []string) {
	for _, line := range lines {
		var entry dircache.DirEntry
		var ok bool
		if o.mlsdUsed {
			entry, ok = parseMLSDLine(line)
		} else {
			entry, ok = parseUnixListLine(line)
		}
		if ok {
			o.listing.Entries = append(o.listing.Entries, entry)
		}
	}
}

// FinishListing is called once both the data channel and control reply have
// completed for the data-channel sub-operation backing this listing.
func (o *ListOp) FinishListing() {
	o.listing.Path = o.path
	o.cache.Store(o.site, o.listing)
	o.state = lsDone
}

func (o *ListOp) SubcommandResult(f *control.Frame, prevResult control.Code, finished control.Operation) control.Code {
	rt, ok := finished.(*RawTransferOp)
	if !ok {
		return prevResult
	}
	if prevResult == control.Ok {
		o.FinishListing()
		return control.Continue
	}
	if rt.LastReplyCode()/100 == 5 {
		// Some servers answer LIST on an empty directory with a 5xx.
		o.listing = dircache.Listing{Path: o.path}
		o.cache.Store(o.site, o.listing)
		o.state = lsDone
		if o.result != nil {
			o.result(o.listing, control.Ok)
		}
		return control.Ok
	}
	if o.result != nil {
		o.result(o.listing, prevResult)
	}
	return prevResult
}

// onListingData drains the data connection line by line into the
// in-progress listing. Directory listings are bounded in size compared to
// file transfers, so reading them out synchronously here (same tradeoff as
// Socket.UpgradeTLS's synchronous handshake) doesn't violate the loop's
// non-blocking contract in practice.
func (o *ListOp) onListingData(conn net.Conn) {
	defer conn.Close()
	var lines []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	o.FeedListingLines(lines)
}

// parseMLSDLine parses one "fact1=val1;fact2=val2; filename" MLSD line.
func parseMLSDLine(line string) (dircache.DirEntry, bool) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return dircache.DirEntry{}, false
	}
	facts, name := line[:sp], line[sp+1:]
	entry := dircache.DirEntry{Name: name, Size: -1}
	for _, fact := range strings.Split(facts, ";") {
		kv := strings.SplitN(fact, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.ToLower(kv[0]), kv[1]
		switch key {
		case "type":
			if val == "dir" || val == "cdir" || val == "pdir" {
				entry.Flags |= dircache.FlagDir
			}
		case "size":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				entry.Size = n
			}
		case "modify":
			if t, err := time.Parse("20060102150405", val); err == nil {
				entry.ModTime = &t
			}
		case "perm":
			entry.Permissions = val
		}
	}
	return entry, true
}

// parseUnixListLine parses one classic Unix `ls -l`-style LIST line.
func parseUnixListLine(line string) (dircache.DirEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return dircache.DirEntry{}, false
	}
	entry := dircache.DirEntry{
		Permissions: fields[0],
		Name:        strings.Join(fields[8:], " "),
		Size:        -1,
	}
	if fields[0][0] == 'd' {
		entry.Flags |= dircache.FlagDir
	} else if fields[0][0] == 'l' {
		entry.Flags |= dircache.FlagLink
		if idx := strings.Index(entry.Name, " -> "); idx >= 0 {
			entry.Target = entry.Name[idx+4:]
			entry.Name = entry.Name[:idx]
		}
	}
	if n, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
		entry.Size = n
	}
	return entry, true
}

// DiscoverTimezoneOffset compares an MDTM result (UTC, per RFC 3659) against
// a previously-seen listing mtime for the same file, returning the offset
// in minutes, recorded as a per-server capability.
func DiscoverTimezoneOffset(mdtm time.Time, listingMTime time.Time) int {
	delta := listingMTime.Sub(mdtm)
	minutes := int(delta.Round(time.Minute) / time.Minute)
	return minutes
}

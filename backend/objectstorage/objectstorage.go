// Package objectstorage implements the object-storage control socket: a
// second external helper-subprocess protocol, sibling to backend/sftp,
// fronting a bucket/object storage service. Paths resolve in two steps,
// first segment to a bucket id, then (for nested files) the parent listing
// to a file id, before any raw command is issued.
package objectstorage

import (
	"context"
	"fmt"
	"strings"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/dircache"
	"github.com/fz3go/engine/serverpath"
)

// commandSender is the slice of *sftp.Helper that ResolveOp needs: sending
// one line to the helper subprocess. Kept as a local interface (rather than
// importing backend/sftp's concrete type) so the object-storage and SFTP
// helper protocols stay independently testable despite sharing a wire
// shape.
type commandSender interface {
	SendCommand(line string) error
}

// idPrefix is the tag stored in a directory cache entry's owner/group field
// once a path segment has been resolved to a bucket or object id.
const idPrefix = "id:"

// EncodeID formats a resolved bucket/object id for storage in a DirEntry's
// OwnerGroup field.
func EncodeID(id string) string { return idPrefix + id }

// DecodeID extracts a previously resolved id from a DirEntry's OwnerGroup
// field, reporting whether one was present.
func DecodeID(ownerGroup string) (string, bool) {
	if !strings.HasPrefix(ownerGroup, idPrefix) {
		return "", false
	}
	return strings.TrimPrefix(ownerGroup, idPrefix), true
}

// resolveState drives the two-step resolution state machine.
type resolveState int

const (
	rsBucketLookup resolveState = iota
	rsBucketList
	rsObjectLookup
	rsObjectList
	rsDone
)

// ResolveOp resolves path's bucket (and, for nested files, object) id by
// consulting the directory cache (the root listing, then the parent's) and,
// on a miss, listing via the helper: the synthetic root for the bucket, or
// the bucket by its id for the object. The object listing names no path
// below the bucket. It is pushed as a
// sub-operation ahead of any command that needs an id (get/put/delete/
// rmdir).
type ResolveOp struct {
	cache *dircache.Cache
	site  serverpath.Site
	path  serverpath.Path

	state      resolveState
	bucketName string
	bucketID   string
	objectName string
	objectID   string

	helper commandSender

	result func(bucketID, objectID string, code control.Code)
}

// NewResolveOp builds a resolution operation for path on site.
func NewResolveOp(cache *dircache.Cache, helper commandSender, site serverpath.Site, path serverpath.Path, result func(string, string, control.Code)) *ResolveOp {
	segs := path.Segments()
	op := &ResolveOp{cache: cache, helper: helper, site: site, path: path, result: result}
	if len(segs) > 0 {
		op.bucketName = segs[0]
	}
	if len(segs) > 1 {
		op.objectName = segs[len(segs)-1]
	}
	return op
}

func (o *ResolveOp) ID() control.OpID { return control.OpResolve }
func (o *ResolveOp) TopLevel() bool   { return false }

// Root is the synthetic top-level directory whose children are buckets.
var Root = serverpath.Path{}

func (o *ResolveOp) Send(ctx context.Context, _ *control.Frame) control.Code {
	switch o.state {
	case rsBucketLookup:
		if id, ok := o.lookupCached(Root, o.bucketName); ok {
			o.bucketID = id
			if o.objectName == "" {
				o.state = rsDone
				return control.Continue
			}
			o.state = rsObjectLookup
			return control.Continue
		}
		o.state = rsBucketList
		return o.sendListCommand(rootRelative())
	case rsBucketList:
		return control.WouldBlock
	case rsObjectLookup:
		parent := o.path.Parent()
		if id, ok := o.lookupCached(parent, o.objectName); ok {
			o.objectID = id
			o.state = rsDone
			return control.Continue
		}
		o.state = rsObjectList
		return o.sendListCommand(o.bucketID)
	case rsObjectList:
		return control.WouldBlock
	default:
		return control.Ok
	}
}

func rootRelative() string { return "/" }

func (o *ResolveOp) lookupCached(dir serverpath.Path, name string) (string, bool) {
	listing, outdated, found := o.cache.Lookup(o.site, dir, true)
	if !found || outdated {
		return "", false
	}
	for _, e := range listing.Entries {
		if e.Name == name {
			return DecodeID(e.OwnerGroup)
		}
	}
	return "", false
}

func (o *ResolveOp) sendListCommand(target string) control.Code {
	if err := o.helper.SendCommand(fmt.Sprintf("list %s", target)); err != nil {
		return control.Error | control.InternalError
	}
	return control.WouldBlock
}

// FeedListLine is called for each "L" line the helper emits while servicing
// the list command issued above, correlating name to id. The pair is kept
// on the operation only; it is not written to the directory cache.
func (o *ResolveOp) FeedListLine(name, id string) {
	switch o.state {
	case rsBucketList:
		if name == o.bucketName {
			o.bucketID = id
		}
	case rsObjectList:
		if name == o.objectName {
			o.objectID = id
		}
	}
}

// FinishList is called on the helper's "D" (done) line terminating the
// list command, advancing the resolution state machine.
func (o *ResolveOp) FinishList(status int) control.Code {
	if status != 0 {
		return control.Error | control.NotFound
	}
	switch o.state {
	case rsBucketList:
		if o.bucketID == "" {
			return control.Error | control.NotFound
		}
		if o.objectName == "" {
			o.state = rsDone
			return control.Ok
		}
		o.state = rsObjectLookup
		return control.Continue
	case rsObjectList:
		if o.objectID == "" {
			return control.Error | control.NotFound
		}
		o.state = rsDone
		return control.Ok
	}
	return control.Error | control.InternalError
}

// Depth reports how many path segments the resolved path has, used to pick
// between bucket-creation and object-put semantics in mkdir.
func Depth(path serverpath.Path) int { return len(path.Segments()) }

// MkdirKind distinguishes the two mkdir behaviours.
type MkdirKind int

const (
	MkdirBucket MkdirKind = iota
	MkdirPrefix
)

// ClassifyMkdir picks MkdirBucket for a depth-1 path (bucket creation) and
// MkdirPrefix otherwise (an object-put establishing a synthetic
// directory).
func ClassifyMkdir(path serverpath.Path) MkdirKind {
	if Depth(path) <= 1 {
		return MkdirBucket
	}
	return MkdirPrefix
}

func (o *ResolveOp) ParseResponse(ctx context.Context, _ *control.Frame) control.Code { return control.Ok }

func (o *ResolveOp) SubcommandResult(_ *control.Frame, prevResult control.Code, _ control.Operation) control.Code {
	return prevResult
}

// BucketID returns the resolved bucket id, valid once Send has reached
// rsDone.
func (o *ResolveOp) BucketID() string { return o.bucketID }

// ObjectID returns the resolved object id, empty when path names a bucket
// directly.
func (o *ResolveOp) ObjectID() string { return o.objectID }

// Done reports whether resolution has completed.
func (o *ResolveOp) Done() bool { return o.state == rsDone }

// RequiresResolveBeforeCommand reports whether kind needs a completed
// ResolveOp pushed ahead of it: commands addressing an object by id cannot
// be issued until resolution has produced one.
func RequiresResolveBeforeCommand(kind string) bool {
	switch kind {
	case "delete", "rmdir", "get", "put":
		return true
	default:
		return false
	}
}

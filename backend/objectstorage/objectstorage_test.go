package objectstorage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/dircache"
	"github.com/fz3go/engine/serverpath"
)

func TestEncodeDecodeID(t *testing.T) {
	encoded := EncodeID("bucket-123")
	id, ok := DecodeID(encoded)
	require.True(t, ok)
	assert.Equal(t, "bucket-123", id)
}

func TestDecodeIDRejectsPlainOwnerGroup(t *testing.T) {
	_, ok := DecodeID("staff/wheel")
	assert.False(t, ok)
}

func TestClassifyMkdirBucketAtDepthOne(t *testing.T) {
	path := serverpath.New(serverpath.ServerUnix, "mybucket")
	assert.Equal(t, MkdirBucket, ClassifyMkdir(path))
}

func TestClassifyMkdirPrefixAtDeeperDepth(t *testing.T) {
	path := serverpath.New(serverpath.ServerUnix, "mybucket", "sub", "dir")
	assert.Equal(t, MkdirPrefix, ClassifyMkdir(path))
}

func TestRequiresResolveBeforeCommand(t *testing.T) {
	assert.True(t, RequiresResolveBeforeCommand("delete"))
	assert.True(t, RequiresResolveBeforeCommand("rmdir"))
	assert.True(t, RequiresResolveBeforeCommand("get"))
	assert.True(t, RequiresResolveBeforeCommand("put"))
	assert.False(t, RequiresResolveBeforeCommand("list"))
}

func TestResolveOpUsesCachedBucketID(t *testing.T) {
	cache := dircache.New()
	site := serverpath.Site{Host: "storage.example", Protocol: serverpath.ProtocolObjectStorage}
	cache.Store(site, dircache.Listing{
		Path: Root,
		Entries: []dircache.DirEntry{
			{Name: "mybucket", Flags: dircache.FlagDir, OwnerGroup: EncodeID("bkt-1")},
		},
	})

	path := serverpath.New(serverpath.ServerUnix, "mybucket")
	op := NewResolveOp(cache, nil, site, path, nil)
	code := op.Send(nil, nil)
	assert.Equal(t, "bkt-1", op.BucketID())
	_ = code
	assert.True(t, op.Done())
}

func TestResolveOpNestedObjectUsesCachedIDs(t *testing.T) {
	cache := dircache.New()
	site := serverpath.Site{Host: "storage.example", Protocol: serverpath.ProtocolObjectStorage}
	cache.Store(site, dircache.Listing{
		Path: Root,
		Entries: []dircache.DirEntry{
			{Name: "mybucket", Flags: dircache.FlagDir, OwnerGroup: EncodeID("bkt-1")},
		},
	})
	bucketPath := serverpath.New(serverpath.ServerUnix, "mybucket")
	cache.Store(site, dircache.Listing{
		Path: bucketPath,
		Entries: []dircache.DirEntry{
			{Name: "file.txt", OwnerGroup: EncodeID("obj-42")},
		},
	})

	path := serverpath.New(serverpath.ServerUnix, "mybucket", "file.txt")
	op := NewResolveOp(cache, nil, site, path, nil)

	op.Send(nil, nil) // bucket lookup, cached
	op.Send(nil, nil) // object lookup, cached

	assert.Equal(t, "bkt-1", op.BucketID())
	assert.Equal(t, "obj-42", op.ObjectID())
	assert.True(t, op.Done())
}

func TestResolveOpMissesCacheAndIssuesListCommand(t *testing.T) {
	cache := dircache.New()
	site := serverpath.Site{Host: "storage.example", Protocol: serverpath.ProtocolObjectStorage}
	path := serverpath.New(serverpath.ServerUnix, "newbucket")
	op := NewResolveOp(cache, &noopHelper{}, site, path, nil)

	code := op.Send(nil, nil)
	assert.True(t, code.Has(control.WouldBlock))
	assert.False(t, op.Done())
}

func TestResolveOpFeedListLineAndFinish(t *testing.T) {
	cache := dircache.New()
	site := serverpath.Site{Host: "storage.example", Protocol: serverpath.ProtocolObjectStorage}
	path := serverpath.New(serverpath.ServerUnix, "newbucket")
	op := NewResolveOp(cache, &noopHelper{}, site, path, nil)
	op.Send(nil, nil) // enters rsBucketList, sends list command

	op.FeedListLine("otherbucket", "ignored-id")
	op.FeedListLine("newbucket", "bkt-99")
	code := op.FinishList(0)
	assert.Equal(t, control.Ok, code)
	assert.Equal(t, "bkt-99", op.BucketID())
	assert.True(t, op.Done())
}

func TestResolveOpFinishListNotFound(t *testing.T) {
	cache := dircache.New()
	site := serverpath.Site{Host: "storage.example", Protocol: serverpath.ProtocolObjectStorage}
	path := serverpath.New(serverpath.ServerUnix, "missingbucket")
	op := NewResolveOp(cache, &noopHelper{}, site, path, nil)
	op.Send(nil, nil)

	code := op.FinishList(0)
	assert.True(t, code.IsError())
}

type noopHelper struct{}

func (h *noopHelper) SendCommand(string) error { return nil }

package ftp

import (
	"testing"
	"time"

	"github.com/fz3go/engine/control"
	"github.com/fz3go/engine/dircache"
	"github.com/fz3go/engine/serverpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMLSDLine(t *testing.T) {
	entry, ok := parseMLSDLine("type=file;size=42;modify=20230101120000; foo.txt")
	require.True(t, ok)
	assert.Equal(t, "foo.txt", entry.Name)
	assert.Equal(t, int64(42), entry.Size)
	assert.False(t, entry.IsDir())
	require.NotNil(t, entry.ModTime)
}

func TestParseMLSDLineDirectory(t *testing.T) {
	entry, ok := parseMLSDLine("type=dir;size=0; subdir")
	require.True(t, ok)
	assert.True(t, entry.IsDir())
}

func TestParseUnixListLineFile(t *testing.T) {
	entry, ok := parseUnixListLine("-rw-r--r-- 1 user group 1234 Jan 01 12:00 foo.txt")
	require.True(t, ok)
	assert.Equal(t, "foo.txt", entry.Name)
	assert.Equal(t, int64(1234), entry.Size)
	assert.False(t, entry.IsDir())
}

func TestParseUnixListLineDirAndSymlink(t *testing.T) {
	entry, ok := parseUnixListLine("drwxr-xr-x 2 user group 4096 Jan 01 12:00 sub")
	require.True(t, ok)
	assert.True(t, entry.IsDir())

	link, ok := parseUnixListLine("lrwxrwxrwx 1 user group 7 Jan 01 12:00 cur -> current")
	require.True(t, ok)
	assert.True(t, link.IsLink())
	assert.Equal(t, "cur", link.Name)
	assert.Equal(t, "current", link.Target)
}

func TestDiscoverTimezoneOffset(t *testing.T) {
	mdtm, err := time.Parse("20060102150405", "20230101120000")
	require.NoError(t, err)
	listingTime, err := time.Parse("20060102150405", "20230101150000")
	require.NoError(t, err)
	assert.Equal(t, 180, DiscoverTimezoneOffset(mdtm, listingTime))
}

func TestRefreshReusesListingStoredWhileWaitingOnLock(t *testing.T) {
	cache := dircache.New()
	site := serverpath.Site{Host: "h", Port: 21}
	path := serverpath.New(serverpath.ServerUnix, "x")

	op := NewListOp(&Socket{}, cache, nil, nil, site, path, true, nil)
	op.state = lsCheckCache
	op.timeBeforeLock = time.Now().Add(-time.Second)

	// Stored after timeBeforeLock, as if another engine refreshed it while
	// this one waited on the list lock.
	cache.Store(site, dircache.Listing{Path: path, Entries: []dircache.DirEntry{{Name: "f"}}})

	code := op.Send(nil, &control.Frame{})
	assert.Equal(t, control.Continue, code)
	assert.Equal(t, lsDone, op.state)
	require.Len(t, op.listing.Entries, 1)
	assert.Equal(t, "f", op.listing.Entries[0].Name)
}

func TestRefreshRefetchesWhenCachedListingPredatesLock(t *testing.T) {
	cache := dircache.New()
	site := serverpath.Site{Host: "h", Port: 21}
	path := serverpath.New(serverpath.ServerUnix, "x")

	cache.Store(site, dircache.Listing{Path: path})

	op := NewListOp(&Socket{}, cache, nil, nil, site, path, true, nil)
	op.state = lsCheckCache
	op.timeBeforeLock = time.Now().Add(time.Second)

	code := op.Send(nil, &control.Frame{})
	assert.Equal(t, control.Continue, code)
	assert.Equal(t, lsRunCommand, op.state)
}

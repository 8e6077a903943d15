package serverpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangePathAbsoluteAndRelative(t *testing.T) {
	root := New(ServerUnix, "home", "bob")
	assert.Equal(t, "/home/bob", root.String())

	sub := root.ChangePath("docs")
	assert.Equal(t, "/home/bob/docs", sub.String())

	up := sub.ChangePath("..")
	assert.Equal(t, "/home/bob", up.String())

	abs := sub.ChangePath("/etc")
	assert.Equal(t, "/etc", abs.String())
}

func TestIsParentOf(t *testing.T) {
	p := New(ServerUnix, "a")
	child := New(ServerUnix, "a", "b")
	assert.True(t, p.IsParentOf(child, true, false))
	assert.False(t, p.IsParentOf(p, true, false))
	assert.True(t, p.IsParentOf(p, true, true))
}

func TestIsParentOfCaseInsensitive(t *testing.T) {
	p := New(ServerUnix, "A")
	other := New(ServerUnix, "a", "b")
	assert.False(t, p.IsParentOf(other, true, false))
	assert.True(t, p.IsParentOf(other, false, false))
}

func TestResolveFixesTypeOnce(t *testing.T) {
	p := Unresolved("x")
	r := p.Resolve(ServerDOS)
	assert.Equal(t, ServerDOS, r.Type())
	r2 := r.Resolve(ServerUnix)
	assert.Equal(t, ServerDOS, r2.Type(), "type must not change once resolved")
}

func TestEmptyPathHasNoType(t *testing.T) {
	var p Path
	assert.True(t, p.Empty())
	r := p.Resolve(ServerUnix)
	assert.True(t, r.Empty())
}

func TestFormatFilename(t *testing.T) {
	p := New(ServerUnix, "a", "b")
	assert.Equal(t, "/a/b/c.txt", p.FormatFilename("c.txt", false))
	assert.Equal(t, "c.txt", p.FormatFilename("c.txt", true))
}

func TestSiteEquality(t *testing.T) {
	a := Site{Host: "h", Port: 21, Protocol: ProtocolFTP, User: "u", TimezoneOffsetMin: 0}
	b := a
	b.TimezoneOffsetMin = 60
	assert.True(t, a.SameResource(b))
	assert.False(t, a.SameContent(b))

	c := a
	c.Host = "other"
	assert.False(t, a.SameResource(c))
}

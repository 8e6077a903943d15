package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	got []Event
}

func (r *recorder) HandleEvent(ev Event) { r.got = append(r.got, ev) }

func TestPostAndRunUntilIdle(t *testing.T) {
	l := New()
	r := &recorder{}
	l.Post(r, "a")
	l.Post(r, "b")
	l.RunUntilIdle()
	assert.Equal(t, []Event{"a", "b"}, r.got)
}

func TestRemoveDropsQueuedEvents(t *testing.T) {
	l := New()
	r := &recorder{}
	l.Post(r, "a")
	l.Remove(r)
	l.Post(r, "b")
	l.RunUntilIdle()
	assert.Empty(t, r.got)

	l.Revive(r)
	l.Post(r, "c")
	l.RunUntilIdle()
	assert.Equal(t, []Event{"c"}, r.got)
}

func TestStopTimerIsIdempotent(t *testing.T) {
	l := New()
	fired := make(chan struct{}, 1)
	id := l.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })
	l.Stop(id)
	l.Stop(id) // must not panic or block
	select {
	case <-fired:
		t.Fatal("timer fired after Stop")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAfterFuncFires(t *testing.T) {
	l := New()
	done := make(chan struct{})
	l.AfterFunc(1*time.Millisecond, func() { close(done) })
	stop := make(chan struct{})
	defer close(stop)
	go l.Run(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

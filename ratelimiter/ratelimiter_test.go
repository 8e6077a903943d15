package ratelimiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnlimitedByDefault(t *testing.T) {
	l := New(0)
	o := l.Register()
	assert.Equal(t, Unlimited, o.GetAvailableBytes(Out))
}

func TestPauseAtZeroAndWake(t *testing.T) {
	l := New(0) // burst tolerance 0 -> 1 tick of headroom
	l.SetLimit(Out, 4) // 4 bytes/sec
	o := l.Register()
	l.Tick() // one tick: perTick = 4*250ms/1s = 1 byte
	assert.Equal(t, int64(1), o.GetAvailableBytes(Out))

	o.Consume(Out, 1)
	assert.Equal(t, int64(0), o.GetAvailableBytes(Out))

	var woke *Object
	l.SetOnWake(func(obj *Object, dir Direction) { woke = obj })
	l.Tick()
	assert.Same(t, o, woke)
	assert.Equal(t, int64(1), o.GetAvailableBytes(Out))
}

// Bytes available never
// exceed L*(1+N_burst) however many ticks accumulate without being spent.
func TestBurstCapRespectsBurstTolerance(t *testing.T) {
	for tolerance, nBurst := range map[int]int{0: 0, 1: 1, 2: 4} {
		l := New(tolerance)
		l.SetLimit(Out, 1000)
		o := l.Register()
		for i := 0; i < 100; i++ {
			l.Tick()
		}
		maxAllowed := int64(1000) * int64(1+nBurst)
		assert.LessOrEqual(t, o.GetAvailableBytes(Out), maxAllowed, "tolerance=%d", tolerance)
	}
}

func TestEqualDivisionAmongObjects(t *testing.T) {
	l := New(0)
	l.SetLimit(Out, 4)
	a := l.Register()
	b := l.Register()
	l.Tick()
	assert.Equal(t, int64(0), a.GetAvailableBytes(Out)) // 4 bytes/sec / 2 objects / 4 ticks-per-sec = 0 (integer division)
	assert.Equal(t, int64(0), b.GetAvailableBytes(Out))
}

func TestUnregisterDoesNotInflateRemaining(t *testing.T) {
	l := New(0)
	l.SetLimit(Out, 40)
	a := l.Register()
	b := l.Register()
	l.Tick()
	before := a.GetAvailableBytes(Out)
	l.Unregister(b)
	l.Tick()
	after := a.GetAvailableBytes(Out)
	assert.LessOrEqual(t, after-before, int64(10)+1) // roughly one more share, not b's leftover
}

package transferstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateThenGetReportsChanged(t *testing.T) {
	s := New(100, 0, false)
	s.Update(10)

	snap, changed := s.Get()
	require.True(t, changed)
	assert.Equal(t, int64(10), snap.CurrentOffset)
	assert.True(t, snap.MadeProgress)
}

func TestGetIsIdempotentWithoutNewUpdate(t *testing.T) {
	s := New(100, 0, false)
	s.Update(10)
	s.Get()

	_, changed := s.Get()
	assert.False(t, changed, "second Get with no intervening Update must report unchanged")
}

func TestNotifyFiresOnlyOnIdleToDirtyEdge(t *testing.T) {
	s := New(-1, 0, false)
	var notifications int
	s.SetNotifyFunc(func() { notifications++ })

	s.Update(1)
	s.Update(1)
	s.Update(1)
	assert.Equal(t, 1, notifications, "notify must fire only on the 0->dirty transition")

	s.Get() // dirty -> sent
	s.Get() // sent -> idle
	s.Update(1)
	assert.Equal(t, 2, notifications, "notify fires again after the gate returns to idle")
}

func TestResumedTransferStartOffset(t *testing.T) {
	s := New(1000, 500, false)
	s.Update(100)
	snap, _ := s.Get()
	assert.Equal(t, int64(600), snap.CurrentOffset)
	assert.Equal(t, int64(100), snap.BytesTransferred())
}

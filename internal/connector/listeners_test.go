package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListenerList_AddAndSnapshot(t *testing.T) {
	var l listenerList[int]

	l.Add(1)
	l.Add(2)

	assert.Equal(t, []int{1, 2}, l.Snapshot())
}

func TestListenerList_SnapshotIsolatedFromLaterAdds(t *testing.T) {
	var l listenerList[int]
	l.Add(1)

	snap := l.Snapshot()
	l.Add(2)

	assert.Equal(t, []int{1}, snap)
	assert.Equal(t, []int{1, 2}, l.Snapshot())
}

func TestListenerList_Clear(t *testing.T) {
	var l listenerList[int]
	l.Add(1)

	l.Clear()

	assert.Empty(t, l.Snapshot())
}

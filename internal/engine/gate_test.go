package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateSeedsFromStoredTimestamp(t *testing.T) {
	g := NewChangeGate()

	// First query seeds from the persisted timestamp, so a replay older
	// than what survived a restart is still rejected.
	assert.False(t, g.Admit("thread", 999, 1000))
	assert.True(t, g.Admit("thread", 1000, 0))
	assert.True(t, g.Admit("thread", 1001, 0))
}

func TestGateSeedOnlyOnce(t *testing.T) {
	g := NewChangeGate()

	assert.True(t, g.Admit("thread", 500, 100))

	// A later call with a larger stored timestamp does not reseed.
	assert.True(t, g.Admit("thread", 200, 9000))
}

func TestGateRecordOnlyAdvances(t *testing.T) {
	g := NewChangeGate()

	g.Record("thread", 1000)
	g.Record("thread", 500)

	last, ok := g.Last("thread")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), last)

	assert.False(t, g.Admit("thread", 999, 0))
	assert.True(t, g.Admit("thread", 1000, 0))
}

func TestGateThreadsIndependent(t *testing.T) {
	g := NewChangeGate()

	g.Record("a", 5000)

	assert.True(t, g.Admit("b", 1, 0))

	_, ok := g.Last("c")
	assert.False(t, ok)
}

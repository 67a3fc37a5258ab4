package engine

import "sync"

// ChangeGate is timestamp-based admission control for remote-driven
// config changes. It remembers, per thread, the timestamp of the most
// recent accepted change; an incoming change stamped earlier is a stale
// replay and is rejected. Entries are seeded lazily from the stored
// config's timestamp the first time a thread is queried, and are never
// rolled back.
type ChangeGate struct {
	mu   sync.RWMutex
	last map[string]int64
}

// NewChangeGate creates an empty gate.
func NewChangeGate() *ChangeGate {
	return &ChangeGate{last: make(map[string]int64)}
}

// Admit reports whether a change stamped tsMs may apply to threadID.
// storedTs seeds the gate when the thread has not been seen this process
// lifetime; it is the persisted last-accepted timestamp, so a restart
// does not reopen the gate to replays.
func (g *ChangeGate) Admit(threadID string, tsMs, storedTs int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	lastTs, ok := g.last[threadID]
	if !ok {
		lastTs = storedTs
		g.last[threadID] = storedTs
	}

	return tsMs >= lastTs
}

// Record moves the thread's accepted timestamp forward. Older timestamps
// are ignored; the gate only advances.
func (g *ChangeGate) Record(threadID string, tsMs int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if tsMs > g.last[threadID] {
		g.last[threadID] = tsMs
	}
}

// Last returns the thread's recorded timestamp, with ok=false when the
// thread has never been seeded or recorded.
func (g *ChangeGate) Last(threadID string) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tsMs, ok := g.last[threadID]

	return tsMs, ok
}

package syncer

import "sync"

// Guard admits at most one run per process. It lives in memory only, so a
// crash mid-run leaves the stored record in the running state.
type Guard struct {
	mu     sync.Mutex
	active bool
	runID  uint
}

// TryAcquire claims the guard and reports whether it was free.
func (g *Guard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return false
	}
	g.active = true
	g.runID = 0
	return true
}

// Bind records the id of the run holding the guard.
func (g *Guard) Bind(runID uint) {
	g.mu.Lock()
	g.runID = runID
	g.mu.Unlock()
}

func (g *Guard) Release() {
	g.mu.Lock()
	g.active = false
	g.runID = 0
	g.mu.Unlock()
}

// Running returns the bound run id and whether the guard is held.
// The id is 0 until Bind is called.
func (g *Guard) Running() (uint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runID, g.active
}

package storage

import (
	"sync"

	"github.com/mvaleed/levellog/internal/level"
)

/*
  LEVEL GATES
  ------------------------------------------------------------------
  A writer for rank L:
  1. waits until gate L is open,
  2. pauses every gate with rank > L,
  3. splices (under the file mutex),
  4. resumes the gates it paused.

  Steps 1 and 2 happen under one mutex, so no writer can slip between the
  check and the pause. Pauses are counted: an Error writer and a Critical
  writer may both hold Warn paused, and Warn opens only when both are done.
  The file mutex still serializes the splice itself; the gates make sure a
  less severe writer never starts while a more severe one is in flight.
*/

type gates struct {
	mu     sync.Mutex
	paused [level.Count]int
	open   [level.Count]*sync.Cond
}

func newGates() *gates {
	g := &gates{}
	for i := range g.open {
		g.open[i] = sync.NewCond(&g.mu)
	}
	return g
}

// acquire blocks until rank's gate is open, then pauses all less severe gates.
func (g *gates) acquire(rank int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.paused[rank] > 0 {
		g.open[rank].Wait()
	}
	for i := rank + 1; i < level.Count; i++ {
		g.paused[i]++
	}
}

// release resumes the gates paused by acquire(rank).
func (g *gates) release(rank int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := rank + 1; i < level.Count; i++ {
		g.paused[i]--
		if g.paused[i] == 0 {
			g.open[i].Broadcast()
		}
	}
}

// isOpen reports whether writers of rank may currently proceed.
func (g *gates) isOpen(rank int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused[rank] == 0
}

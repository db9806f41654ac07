package altcom

import "go.uber.org/atomic"

// InFlight guards a single-instance resource such as the open directory
// handle or a pending event enable request. The zero value is free.
type InFlight struct {
	busy atomic.Bool
}

// TryAcquire claims the guard, it returns false while someone else holds it
func (g *InFlight) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *InFlight) Release() {
	g.busy.Store(false)
}

func (g *InFlight) Busy() bool {
	return g.busy.Load()
}

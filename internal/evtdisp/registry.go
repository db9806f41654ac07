package evtdisp

import (
	"sync"

	"github.com/LeoCommon/altcom/pkg/frame"
)

// Key addresses one callback slot: an event class and, for classes with
// several instances such as HTTP profiles, the instance index
type Key struct {
	Class frame.CommandID
	Index int
}

// Handler receives a decoded event and the private value given at registration
type Handler func(event any, priv any)

// registration is immutable once stored, so a reader holding the pointer
// always sees a matching handler/priv pair
type registration struct {
	handler Handler
	priv    any
}

type Registry struct {
	mu    sync.RWMutex
	slots map[Key]*registration
}

func NewRegistry() *Registry {
	return &Registry{slots: make(map[Key]*registration)}
}

// Register replaces the slot, a nil handler clears it.
// It reports whether a previous registration was replaced.
func (r *Registry) Register(k Key, h Handler, priv any) bool {
	var reg *registration
	if h != nil {
		reg = &registration{handler: h, priv: priv}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.slots[k]
	if reg == nil {
		delete(r.slots, k)
	} else {
		r.slots[k] = reg
	}
	return existed
}

func (r *Registry) Unregister(k Key) {
	r.Register(k, nil, nil)
}

func (r *Registry) Registered(k Key) bool {
	return r.lookup(k) != nil
}

func (r *Registry) lookup(k Key) *registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[k]
}

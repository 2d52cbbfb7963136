// File: server/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection arena. Connections are addressed by generation-checked handles
// so that work posted from other goroutines can never reach a connection
// that was closed and whose slot was reused.

package server

// handle packs a slot index and the slot's generation at allocation time.
type handle uint64

func makeHandle(index, gen uint32) handle { return handle(uint64(gen)<<32 | uint64(index)) }

func (h handle) index() uint32 { return uint32(h) }
func (h handle) gen() uint32   { return uint32(h >> 32) }

type arenaSlot struct {
	gen  uint32
	conn *conn
}

// arena is owned by one event loop and never touched concurrently.
type arena struct {
	slots []arenaSlot
	free  []uint32
	count int
}

// insert stores c and returns its handle.
func (a *arena) insert(c *conn) handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}
	s := &a.slots[idx]
	s.gen++
	s.conn = c
	a.count++
	return makeHandle(idx, s.gen)
}

// get returns the connection for h, or nil when h is stale.
func (a *arena) get(h handle) *conn {
	idx := h.index()
	if int(idx) >= len(a.slots) {
		return nil
	}
	s := &a.slots[idx]
	if s.gen != h.gen() {
		return nil
	}
	return s.conn
}

// at returns the live connection in slot idx.
func (a *arena) at(idx uint32) *conn {
	if int(idx) >= len(a.slots) {
		return nil
	}
	return a.slots[idx].conn
}

// remove frees the slot of h. Stale handles are ignored.
func (a *arena) remove(h handle) {
	idx := h.index()
	if int(idx) >= len(a.slots) {
		return
	}
	s := &a.slots[idx]
	if s.gen != h.gen() || s.conn == nil {
		return
	}
	s.conn = nil
	a.free = append(a.free, idx)
	a.count--
}

// each calls fn for every live connection.
func (a *arena) each(fn func(c *conn)) {
	for i := range a.slots {
		if c := a.slots[i].conn; c != nil {
			fn(c)
		}
	}
}

// len returns the number of live connections.
func (a *arena) len() int { return a.count }

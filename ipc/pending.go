package ipc

import (
	"sync"
	"time"

	zap "github.com/zapjs/zap"
)

// shardCount mirrors spec §5's "sharded by request_id low bits" guidance to
// reduce pending-map contention under concurrent dispatch.
const shardCount = 16

// pendingSlot is one outstanding correlation: a completion channel the
// owner blocks on, and the deadline it was installed with.
type pendingSlot struct {
	done     chan result
	deadline time.Time
}

type result struct {
	value any
	err   error
}

// pendingMap is the "table of outstanding correlation IDs awaiting
// completion" from spec §3, sharded to spread lock contention.
type pendingMap struct {
	shards [shardCount]struct {
		mu    sync.Mutex
		slots map[string]*pendingSlot
	}
}

func newPendingMap() *pendingMap {
	pm := &pendingMap{}
	for i := range pm.shards {
		pm.shards[i].slots = make(map[string]*pendingSlot)
	}
	return pm
}

func (pm *pendingMap) shard(id string) *struct {
	mu    sync.Mutex
	slots map[string]*pendingSlot
} {
	h := fnv32(id)
	return &pm.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// register installs a new pending slot for id, replacing nothing — callers
// must ensure ids are unique for the lifetime of the slot (spec §3).
func (pm *pendingMap) register(id string, deadline time.Time) *pendingSlot {
	slot := &pendingSlot{done: make(chan result, 1), deadline: deadline}
	sh := pm.shard(id)
	sh.mu.Lock()
	sh.slots[id] = slot
	sh.mu.Unlock()
	return slot
}

// resolve completes the pending slot for id exactly once, if still present.
// Returns false if no such slot exists (late or unknown correlation,
// spec §4.4: "late responses are dropped").
func (pm *pendingMap) resolve(id string, value any, err error) bool {
	sh := pm.shard(id)
	sh.mu.Lock()
	slot, ok := sh.slots[id]
	if ok {
		delete(sh.slots, id)
	}
	sh.mu.Unlock()
	if !ok {
		return false
	}
	slot.done <- result{value: value, err: err}
	return true
}

// remove clears id from the map without resolving it (used on local
// timeout or cancellation, spec §5).
func (pm *pendingMap) remove(id string) {
	sh := pm.shard(id)
	sh.mu.Lock()
	delete(sh.slots, id)
	sh.mu.Unlock()
}

// failAll resolves every outstanding slot with err — used when the
// transport closes (spec §4.5, §4.7).
func (pm *pendingMap) failAll(err error) {
	for i := range pm.shards {
		sh := &pm.shards[i]
		sh.mu.Lock()
		slots := sh.slots
		sh.slots = make(map[string]*pendingSlot)
		sh.mu.Unlock()
		for _, slot := range slots {
			select {
			case slot.done <- result{err: err}:
			default:
			}
		}
	}
}

// await blocks for id's resolution or timeout, whichever first; it
// always removes the slot from the map before returning.
func (pm *pendingMap) await(id string, slot *pendingSlot, timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-slot.done:
		return r.value, r.err
	case <-timer.C:
		pm.remove(id)
		return nil, &zap.IpcError{Kind: zap.IpcTimeout, Message: "request timed out"}
	}
}

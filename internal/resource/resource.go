// Package resource implements the local half of exclusive-resource
// management: a named resource's holder and FIFO wait queue. Remote
// forwarding along the ring lives in the coordinator package, which is the
// only caller that also needs RPC access.
package resource

import (
	"sync"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/ringaddr"
)

type record struct {
	holder *ringaddr.Addr
	queue  []ringaddr.Addr
}

// Registry holds every resource this node is the owner of. In the
// launch contract a node owns exactly one resource, but the registry is
// not hard-coded to a single entry so tests can exercise several.
type Registry struct {
	mu    sync.Mutex
	owned map[string]*record
}

func NewRegistry(ownedNames ...string) *Registry {
	r := &Registry{owned: make(map[string]*record)}
	for _, n := range ownedNames {
		r.owned[n] = &record{}
	}
	return r
}

func (r *Registry) Owns(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owned[name]
	return ok
}

// AcquireLocal grants the resource immediately if free, otherwise enqueues
// the requester and reports it as queued. holder is always the current
// holder's address once the call returns without error — the caller uses
// it as the wait-for edge target when the request was queued.
func (r *Registry) AcquireLocal(name string, requester ringaddr.Addr) (granted bool, holder ringaddr.Addr, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.owned[name]
	if !ok {
		return false, ringaddr.Addr{}, apperrors.Resource(apperrors.ReasonUnknownResource, name)
	}

	if rec.holder != nil && *rec.holder == requester {
		return false, *rec.holder, apperrors.Resource(apperrors.ReasonDoubleAcquire, name)
	}

	if rec.holder == nil {
		h := requester
		rec.holder = &h
		return true, h, nil
	}

	for _, w := range rec.queue {
		if w == requester {
			return false, *rec.holder, nil // already queued, not an error: idempotent retry
		}
	}
	rec.queue = append(rec.queue, requester)
	return false, *rec.holder, nil
}

// ReleaseLocal releases the resource on behalf of holder. If another
// requester was waiting, it becomes the new holder and is returned so the
// caller can send it a Grant notification; grants are the coordinator's
// job since they require an RPC.
func (r *Registry) ReleaseLocal(name string, holder ringaddr.Addr) (next *ringaddr.Addr, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.owned[name]
	if !ok {
		return nil, apperrors.Resource(apperrors.ReasonUnknownResource, name)
	}
	if rec.holder == nil || *rec.holder != holder {
		return nil, apperrors.Resource(apperrors.ReasonNotHolder, name)
	}

	if len(rec.queue) == 0 {
		rec.holder = nil
		return nil, nil
	}

	newHolder := rec.queue[0]
	rec.queue = rec.queue[1:]
	rec.holder = &newHolder
	return &newHolder, nil
}

// Holder reports the current holder of a locally-owned resource, if any.
func (r *Registry) Holder(name string) (ringaddr.Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.owned[name]
	if !ok || rec.holder == nil {
		return ringaddr.Addr{}, false
	}
	return *rec.holder, true
}

// Queued reports the wait queue of a locally-owned resource, for /status.
func (r *Registry) Queued(name string) []ringaddr.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.owned[name]
	if !ok {
		return nil
	}
	out := make([]ringaddr.Addr, len(rec.queue))
	copy(out, rec.queue)
	return out
}

// DropWaiter removes a requester from a resource's queue without granting
// it anything; the current holder is left unchanged. Dropped waiters are
// never silently granted.
func (r *Registry) DropWaiter(name string, who ringaddr.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.owned[name]
	if !ok {
		return
	}
	kept := rec.queue[:0]
	for _, w := range rec.queue {
		if w != who {
			kept = append(kept, w)
		}
	}
	rec.queue = kept
}

// ReleaseAllHeldByAndClear is invoked when this node itself leaves the
// ring: every resource it owns is released, freeing whichever local
// holder/queue state existed. The cleared queues are returned per resource
// name; the waiters in them are not notified (Node.Leave discards the
// result), so they are never granted and never told they were dropped.
func (r *Registry) ReleaseAllHeldByAndClear() map[string][]ringaddr.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	abandoned := make(map[string][]ringaddr.Addr, len(r.owned))
	for name, rec := range r.owned {
		abandoned[name] = rec.queue
		rec.holder = nil
		rec.queue = nil
	}
	return abandoned
}

// OwnedNames lists the resources this node owns, for /status.
func (r *Registry) OwnedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.owned))
	for n := range r.owned {
		out = append(out, n)
	}
	return out
}

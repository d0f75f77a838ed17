// Package ring implements the self-healing ring topology: next/nextnext/prev
// pointers, join, graceful leave, and single-failure repair. Every exported
// method that mutates pointers takes the ring lock only long enough to read
// or write the in-memory struct; RPCs to peers always happen after the lock
// is released (see Node.JoinTo / Node.Leave / Node.Repair).
package ring

import (
	"sync"
	"time"

	"ringcoord/internal/ringaddr"
)

// NeighborInfo is the pointer triple exchanged during join. The ring
// manager never calls peers itself — every method below only mutates
// local state and, where a remote notification is needed, hands the
// caller (the coordinator, which owns the RPC transport) the addresses to
// notify and with what value.
type NeighborInfo struct {
	Next     ringaddr.Addr
	NextNext ringaddr.Addr
	Prev     ringaddr.Addr
}

// Manager owns one node's ring pointers plus a short-lived quarantine of
// addresses recently reported failed, so stale pointer updates that still
// name a dead peer are rejected (see NotifyRepair/isQuarantined).
type Manager struct {
	mu   sync.RWMutex
	self ringaddr.Addr

	next     ringaddr.Addr
	nextNext ringaddr.Addr
	prev     ringaddr.Addr
	inRing   bool

	quarantineMu sync.Mutex
	quarantine   map[ringaddr.Addr]time.Time
	quarantineTTL time.Duration
}

const defaultQuarantineTTL = 30 * time.Second

func NewManager(self ringaddr.Addr) *Manager {
	m := &Manager{
		self:          self,
		quarantine:    make(map[ringaddr.Addr]time.Time),
		quarantineTTL: defaultQuarantineTTL,
	}
	m.resetToSingleton()
	return m
}

func (m *Manager) resetToSingleton() {
	m.next = m.self
	m.nextNext = m.self
	m.prev = m.self
	m.inRing = true
}

func (m *Manager) Self() ringaddr.Addr { return m.self }

func (m *Manager) Snapshot() NeighborInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NeighborInfo{Next: m.next, NextNext: m.nextNext, Prev: m.prev}
}

func (m *Manager) IsSingleton() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.next == m.self && m.prev == m.self
}

// --- local pointer getters/setters, exposed to the RPC server so remote
// peers can query/mutate this node's pointers. ---

func (m *Manager) GetNext() ringaddr.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.next
}

func (m *Manager) GetPrev() ringaddr.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prev
}

func (m *Manager) GetNextNext() ringaddr.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextNext
}

// SetNext/SetPrev/SetNextNext are the receiving side of the SetNext/...
// RPCs. from is the peer that claims to be issuing the update; if from is
// currently quarantined the update is dropped.
func (m *Manager) SetNext(from, value ringaddr.Addr) bool {
	if m.isQuarantined(from) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = value
	return true
}

func (m *Manager) SetPrev(from, value ringaddr.Addr) bool {
	if m.isQuarantined(from) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev = value
	return true
}

func (m *Manager) SetNextNext(from, value ringaddr.Addr) bool {
	if m.isQuarantined(from) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNext = value
	return true
}

func (m *Manager) isQuarantined(addr ringaddr.Addr) bool {
	if addr.IsZero() {
		return false
	}
	m.quarantineMu.Lock()
	defer m.quarantineMu.Unlock()
	until, ok := m.quarantine[addr]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(m.quarantine, addr)
		return false
	}
	return true
}

// NotifyRepair records that failed is believed dead, so pointer updates
// claiming to originate from it are rejected for a short window.
func (m *Manager) NotifyRepair(failed ringaddr.Addr) {
	m.quarantineMu.Lock()
	defer m.quarantineMu.Unlock()
	m.quarantine[failed] = time.Now().Add(m.quarantineTTL)
}

// HandleOtherJoining is executed on the target of a JoinTo call. The
// singleton-target case is handled separately so the joiner ends up with
// a correct, self-pointing nextnext in the resulting 2-node ring.
func (m *Manager) HandleOtherJoining(joiner ringaddr.Addr) (reply NeighborInfo, notifySetPrev, notifySetNextNext *ringaddr.Addr) {
	m.mu.Lock()
	x := m.next
	p := m.prev
	oldNextNext := m.nextNext
	singleton := x == m.self

	if singleton {
		m.next = joiner
		m.prev = joiner
		m.nextNext = m.self
		reply = NeighborInfo{Next: m.self, NextNext: joiner, Prev: m.self}
		m.mu.Unlock()
		return reply, nil, nil
	}

	m.next = joiner
	m.nextNext = x
	reply = NeighborInfo{Next: x, NextNext: oldNextNext, Prev: m.self}
	m.mu.Unlock()

	return reply, &x, &p
}

// ApplyJoinReply is the joiner's side: adopt the pointers the target
// handed back verbatim.
func (m *Manager) ApplyJoinReply(reply NeighborInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = reply.Next
	m.nextNext = reply.NextNext
	m.prev = reply.Prev
}

// LeavePlan is the four-way classification of how a graceful
// leave must notify its neighbors, derived once under the lock and then
// executed via RPC outside it.
type LeavePlan struct {
	WasSingleton bool
	RingSizeTwo  bool // only other node becomes singleton
	Other        ringaddr.Addr

	RingSizeThree bool
	P, N, NN      ringaddr.Addr

	General bool
}

// PlanLeave reads this node's pointers, classifies which of the four
// departure cases applies (singleton / ring-of-two / ring-of-three /
// general), and resets this node to a disconnected singleton.
func (m *Manager) PlanLeave() LeavePlan {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, n, nn := m.prev, m.next, m.nextNext
	var plan LeavePlan

	switch {
	case n == m.self:
		plan.WasSingleton = true
	case p == n:
		plan.RingSizeTwo = true
		plan.Other = p
	case p == nn:
		plan.RingSizeThree = true
		plan.P, plan.N, plan.NN = p, n, nn
	default:
		plan.General = true
		plan.P, plan.N, plan.NN = p, n, nn
	}

	m.resetToSingleton()
	m.inRing = false
	return plan
}

// MarkInRing/InRing track whether this node currently participates in a
// ring at all (false right after Leave/Kill/Revive, true once joined).
func (m *Manager) MarkInRing(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inRing = v
}

func (m *Manager) InRing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inRing
}

// RepairPlan is what the node that detected a dead `next` needs in order
// to splice nextnext in as the new next.
type RepairPlan struct {
	Failed   ringaddr.Addr
	Promoted ringaddr.Addr // nextnext, candidate new next
	Prev     ringaddr.Addr
	HasPrev  bool // prev != self
}

// PlanRepair reads the pointers needed to attempt a repair after `next`
// (equal to Failed) stopped responding.
func (m *Manager) PlanRepair(failed ringaddr.Addr) RepairPlan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return RepairPlan{
		Failed:   failed,
		Promoted: m.nextNext,
		Prev:     m.prev,
		HasPrev:  m.prev != m.self,
	}
}

// CompleteRepair installs the new next/nextnext once the promoted node
// has confirmed it is reachable and reported its own next.
func (m *Manager) CompleteRepair(newNext, newNextNext ringaddr.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = newNext
	m.nextNext = newNextNext
}

// Collapse marks the ring as having no reachable peers left.
func (m *Manager) Collapse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetToSingleton()
}

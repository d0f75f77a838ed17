// Package detection implements the Chandy–Misra–Haas probe exchange: a
// passive (blocked) node forwards a probe along its wait-for edge; if the
// probe returns to its own initiator, a deadlock verdict is reported. No
// resolution is attempted — this package only ever reports, per the
// report-only verdict policy.
package detection

import (
	"sync"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/ringaddr"
)

// Outcome classifies what a received probe should cause the engine's
// caller (the coordinator, which owns the RPC client) to do next.
type Outcome int

const (
	OutcomeDrop Outcome = iota
	OutcomeForward
	OutcomeDeadlockDetected
)

type ProbeResult struct {
	Outcome Outcome
	Target  ringaddr.Addr // valid when Outcome == OutcomeForward
}

// Engine is one node's detection state: whether it is blocked (passive)
// waiting on some other address, and which probe initiators it has
// already forwarded in the current blocked episode.
type Engine struct {
	mu         sync.Mutex
	self       ringaddr.Addr
	active     bool
	waitingFor ringaddr.Addr
	probeSeen  map[ringaddr.Addr]bool
}

func NewEngine(self ringaddr.Addr) *Engine {
	return &Engine{self: self, active: true, probeSeen: make(map[ringaddr.Addr]bool)}
}

func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) WaitingFor() (ringaddr.Addr, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return ringaddr.Addr{}, false
	}
	return e.waitingFor, true
}

// SetActive marks this node as no longer blocked. The probe-seen set is
// cleared: a later blocking episode starts a fresh detection round.
func (e *Engine) SetActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = true
	e.waitingFor = ringaddr.Addr{}
	e.probeSeen = make(map[ringaddr.Addr]bool)
}

// SetPassive marks this node as blocked on waitingFor. Leaves probeSeen
// untouched; only SetActive resets it.
func (e *Engine) SetPassive(waitingFor ringaddr.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.waitingFor = waitingFor
}

// StartDetection begins a new round initiated by this node. Only valid
// while blocked.
func (e *Engine) StartDetection() (target ringaddr.Addr, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return ringaddr.Addr{}, apperrors.Detection(apperrors.ReasonNotBlocked, "")
	}
	e.probeSeen[e.self] = true
	return e.waitingFor, nil
}

// HandleProbe processes an inbound Probe(initiator, sender) addressed to
// this node.
func (e *Engine) HandleProbe(initiator, sender ringaddr.Addr) ProbeResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return ProbeResult{Outcome: OutcomeDrop}
	}
	if initiator == e.self {
		return ProbeResult{Outcome: OutcomeDeadlockDetected}
	}
	if e.probeSeen[initiator] {
		return ProbeResult{Outcome: OutcomeDrop}
	}
	e.probeSeen[initiator] = true
	return ProbeResult{Outcome: OutcomeForward, Target: e.waitingFor}
}

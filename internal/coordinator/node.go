// Package coordinator wires ring membership, resource management and
// deadlock detection into the single stateful object a node's RPC server
// and HTTP control surface both delegate to. It is the only package that
// knows about all three subsystems and about the outbound transport.
package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/detection"
	"ringcoord/internal/resource"
	"ringcoord/internal/ring"
	"ringcoord/internal/ringaddr"
	"ringcoord/internal/util"
)

// Transport is the outbound half of the inter-node protocol. rpcx.ClientManager
// satisfies it; tests supply an in-memory fake.
type Transport interface {
	GetNext(addr ringaddr.Addr) (ringaddr.Addr, error)
	SetNext(addr, from, value ringaddr.Addr) error
	SetPrev(addr, from, value ringaddr.Addr) error
	SetNextNext(addr, from, value ringaddr.Addr) error
	NotifyRepair(addr, from, failed ringaddr.Addr)
	OtherJoining(addr, joiner ringaddr.Addr) (ring.NeighborInfo, error)
	Acquire(addr ringaddr.Addr, resourceName string, requester0 ringaddr.Addr) (status string, holder ringaddr.Addr, err error)
	Release(addr ringaddr.Addr, resourceName string, requester0 ringaddr.Addr) (string, error)
	Grant(addr ringaddr.Addr, resourceName string, grantee ringaddr.Addr)
	Probe(addr ringaddr.Addr, initiator, sender ringaddr.Addr)
	SetDelay(d time.Duration)
	Delay() time.Duration
}

// Verdict records one deadlock report surfaced by the detection engine.
type Verdict struct {
	Initiator ringaddr.Addr
	At        time.Time
}

type Node struct {
	self         ringaddr.Addr
	instanceID   uuid.UUID
	ring         *ring.Manager
	registry     *resource.Registry
	detection    *detection.Engine
	transport    Transport
	log          util.Logger

	aliveMu sync.RWMutex
	alive   bool

	lastPrevMu sync.Mutex
	lastPrev   ringaddr.Addr
	hasPrev    bool

	extMu        sync.Mutex
	heldExternal map[string]bool

	lamportMu sync.Mutex
	lamport   uint64

	verdictMu sync.Mutex
	verdicts  []Verdict

	waitMu  sync.Mutex
	waiters map[ringaddr.Addr][]chan struct{}
}

func NewNode(self ringaddr.Addr, ownedResource string, transport Transport, log util.Logger) *Node {
	if log == nil {
		log = util.L()
	}
	return &Node{
		self:         self,
		instanceID:   uuid.New(),
		ring:         ring.NewManager(self),
		registry:     resource.NewRegistry(ownedResource),
		detection:    detection.NewEngine(self),
		transport:    transport,
		log:          log,
		alive:        true,
		heldExternal: make(map[string]bool),
		waiters:      make(map[ringaddr.Addr][]chan struct{}),
	}
}

func (n *Node) Self() ringaddr.Addr   { return n.self }
func (n *Node) InstanceID() string    { return n.instanceID.String() }
func (n *Node) Ring() *ring.Manager   { return n.ring }
func (n *Node) Registry() *resource.Registry { return n.registry }
func (n *Node) Detection() *detection.Engine { return n.detection }

func (n *Node) Alive() bool {
	n.aliveMu.RLock()
	defer n.aliveMu.RUnlock()
	return n.alive
}

func (n *Node) tick() uint64 {
	n.lamportMu.Lock()
	defer n.lamportMu.Unlock()
	n.lamport++
	return n.lamport
}

func (n *Node) Lamport() uint64 {
	n.lamportMu.Lock()
	defer n.lamportMu.Unlock()
	return n.lamport
}

// SetDelay overrides the artificial outbound delay at runtime (the
// /delay control-surface route); the delay itself is enforced by the
// transport, immediately before each outbound call and never under a lock.
func (n *Node) SetDelay(d time.Duration) { n.transport.SetDelay(d) }
func (n *Node) Delay() time.Duration     { return n.transport.Delay() }

func (n *Node) rememberPrev(p ringaddr.Addr) {
	n.lastPrevMu.Lock()
	defer n.lastPrevMu.Unlock()
	n.lastPrev = p
	n.hasPrev = true
}

// observe releases any /waitForMessage waiter registered on from — the
// test hook spec.md's control surface exposes to synchronize against a
// specific peer's next inbound message.
func (n *Node) observe(from ringaddr.Addr) {
	if from.IsZero() {
		return
	}
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	for _, ch := range n.waiters[from] {
		close(ch)
	}
	delete(n.waiters, from)
}

// WaitForMessage blocks until an inbound RPC declaring from == peer is
// observed, or timeout elapses; returns whether a message arrived.
func (n *Node) WaitForMessage(peer ringaddr.Addr, timeout time.Duration) bool {
	ch := make(chan struct{})
	n.waitMu.Lock()
	n.waiters[peer] = append(n.waiters[peer], ch)
	n.waitMu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ----- rpcx.Handler: inbound wire dispatch -----

func (n *Node) GetNext() ringaddr.Addr     { return n.ring.GetNext() }
func (n *Node) GetPrev() ringaddr.Addr     { return n.ring.GetPrev() }
func (n *Node) GetNextNext() ringaddr.Addr { return n.ring.GetNextNext() }

func (n *Node) HandleSetNext(from, value ringaddr.Addr) bool {
	n.tick()
	n.observe(from)
	return n.ring.SetNext(from, value)
}
func (n *Node) HandleSetPrev(from, value ringaddr.Addr) bool {
	n.tick()
	n.observe(from)
	return n.ring.SetPrev(from, value)
}
func (n *Node) HandleSetNextNext(from, value ringaddr.Addr) bool {
	n.tick()
	n.observe(from)
	return n.ring.SetNextNext(from, value)
}

func (n *Node) HandleNotifyRepair(from, failed ringaddr.Addr) {
	n.tick()
	n.observe(from)
	n.ring.NotifyRepair(failed)
	n.log.Warnf("peer %s reports %s failed", from, failed)
}

// ----- ring membership -----

func (n *Node) JoinTo(target ringaddr.Addr) error {
	if !n.Alive() {
		return apperrors.Lifecycle(apperrors.ReasonNodeDead, "")
	}
	n.tick()
	reply, err := n.transport.OtherJoining(target, n.self)
	if err != nil {
		return apperrors.Topology(apperrors.ReasonPeerUnreachable, target.String())
	}
	n.ring.ApplyJoinReply(reply)
	n.ring.MarkInRing(true)
	n.rememberPrev(reply.Prev)
	n.log.Infof("joined via %s: next=%s nextnext=%s prev=%s", target, reply.Next, reply.NextNext, reply.Prev)
	return nil
}

// HandleOtherJoining is the target side of JoinTo, invoked by the RPC
// server when a peer asks to splice itself in as our new successor.
func (n *Node) HandleOtherJoining(joiner ringaddr.Addr) ring.NeighborInfo {
	n.tick()
	n.observe(joiner)
	reply, notifyPrev, notifyNextNext := n.ring.HandleOtherJoining(joiner)
	if notifyPrev != nil {
		go func(target ringaddr.Addr) {
			if err := n.transport.SetPrev(target, n.self, joiner); err != nil {
				n.log.Warnf("notify SetPrev(%s, %s) failed: %v", target, joiner, err)
			}
		}(*notifyPrev)
	}
	if notifyNextNext != nil {
		go func(target ringaddr.Addr) {
			if err := n.transport.SetNextNext(target, n.self, joiner); err != nil {
				n.log.Warnf("notify SetNextNext(%s, %s) failed: %v", target, joiner, err)
			}
		}(*notifyNextNext)
	}
	n.ring.MarkInRing(true)
	return reply
}

func (n *Node) Leave() error {
	if !n.Alive() {
		return apperrors.Lifecycle(apperrors.ReasonNodeDead, "")
	}
	n.tick()
	plan := n.ring.PlanLeave()

	switch {
	case plan.WasSingleton:
		// nothing to notify
	case plan.RingSizeTwo:
		go func(o ringaddr.Addr) {
			_ = n.transport.SetNext(o, n.self, o)
			_ = n.transport.SetPrev(o, n.self, o)
			_ = n.transport.SetNextNext(o, n.self, o)
		}(plan.Other)
	case plan.RingSizeThree:
		// Ring collapses from 3 to 2: P's nextnext and N's nextnext both
		// become self-pointing, matching the ring-of-two invariant.
		go func(p, node ringaddr.Addr) {
			_ = n.transport.SetNext(p, n.self, node)
			_ = n.transport.SetNextNext(p, n.self, p)
			_ = n.transport.SetPrev(node, n.self, p)
			_ = n.transport.SetNextNext(node, n.self, node)
		}(plan.P, plan.N)
	case plan.General:
		go func(p, node, nn ringaddr.Addr) {
			_ = n.transport.SetNext(p, n.self, node)
			_ = n.transport.SetNextNext(p, n.self, nn)
			_ = n.transport.SetPrev(node, n.self, p)
		}(plan.P, plan.N, plan.NN)
	}

	n.registry.ReleaseAllHeldByAndClear()
	n.ring.MarkInRing(false)
	n.log.Infof("left the ring")
	return nil
}

// Kill simulates a crash: the node stops participating without notifying
// any peer, unlike the orderly Leave().
func (n *Node) Kill() error {
	if !n.Alive() {
		return apperrors.Lifecycle(apperrors.ReasonNodeDead, "")
	}
	n.rememberPrev(n.ring.GetPrev())
	n.aliveMu.Lock()
	n.alive = false
	n.aliveMu.Unlock()
	n.ring.Collapse()
	n.ring.MarkInRing(false)
	n.log.Warnf("killed")
	return nil
}

// Revive always resets to a disconnected singleton; with rejoin=true it
// additionally attempts to splice back in via the last predecessor this
// node remembers, echoing the auto-rejoin behavior of the original
// prototype this service is modeled after.
func (n *Node) Revive(rejoin bool) error {
	n.aliveMu.Lock()
	if n.alive {
		n.aliveMu.Unlock()
		return apperrors.Lifecycle(apperrors.ReasonAlreadyAlive, "")
	}
	n.alive = true
	n.aliveMu.Unlock()

	n.ring.Collapse()
	n.ring.MarkInRing(false)
	n.detection.SetActive()
	n.log.Infof("revived")

	if rejoin {
		n.lastPrevMu.Lock()
		target, ok := n.lastPrev, n.hasPrev
		n.lastPrevMu.Unlock()
		if ok && target != n.self {
			if err := n.JoinTo(target); err != nil {
				n.log.Warnf("auto-rejoin via %s failed: %v", target, err)
			}
		}
	}
	return nil
}

// Repair is invoked when an outbound call to `failed` (assumed to be
// `next`) has just failed. It promotes nextnext to next, queries the
// promoted node's own next, and splices prev in behind it.
func (n *Node) Repair(failed ringaddr.Addr) error {
	plan := n.ring.PlanRepair(failed)
	if plan.Promoted == n.self || plan.Promoted == failed {
		n.ring.Collapse()
		return apperrors.Topology(apperrors.ReasonRingCollapsed, "")
	}

	newNext, err := n.transport.GetNext(plan.Promoted)
	if err != nil {
		n.ring.Collapse()
		n.log.Errorf("repair: promoted node %s unreachable, ring collapsed", plan.Promoted)
		return apperrors.Topology(apperrors.ReasonRingCollapsed, plan.Promoted.String())
	}

	n.ring.CompleteRepair(plan.Promoted, newNext)
	go func() {
		_ = n.transport.SetPrev(plan.Promoted, n.self, n.self)
		n.transport.NotifyRepair(plan.Promoted, n.self, failed)
		if plan.HasPrev {
			_ = n.transport.SetNextNext(plan.Prev, n.self, plan.Promoted)
			n.transport.NotifyRepair(plan.Prev, n.self, failed)
		}
	}()
	n.log.Warnf("repaired: %s dead, new next=%s", failed, plan.Promoted)
	return nil
}

// ----- resource protocol -----

// HandleAcquire processes an Acquire(name, requester0) request, whether it
// originates locally (requester0 == self) or arrives forwarded from a peer.
// Whichever node this chain started at (requester0 == n.self, true exactly
// once, win or lose, regardless of how many hops it took to resolve) updates
// its own detection state from the final status/holder.
func (n *Node) HandleAcquire(name string, requester0 ringaddr.Addr) (status string, holder ringaddr.Addr, err error) {
	n.tick()
	n.observe(requester0)

	if n.registry.Owns(name) {
		granted, h, aerr := n.registry.AcquireLocal(name, requester0)
		if aerr != nil {
			return "", ringaddr.Addr{}, aerr
		}
		holder = h
		if granted {
			status = "granted"
		} else {
			status = "queued"
		}
	} else {
		next := n.ring.GetNext()
		if next == requester0 || next == n.self {
			return "", ringaddr.Addr{}, apperrors.Resource(apperrors.ReasonUnknownResource, name)
		}
		s, h, terr := n.transport.Acquire(next, name, requester0)
		if terr != nil {
			if ae, ok := apperrors.As(terr); ok {
				return "", ringaddr.Addr{}, ae
			}
			go func() { _ = n.Repair(next) }()
			return "", ringaddr.Addr{}, apperrors.Resource(apperrors.ReasonAcquireFailed, name)
		}
		status, holder = s, h
	}

	if requester0 == n.self {
		if status == "granted" {
			n.detection.SetActive()
		} else {
			n.detection.SetPassive(holder)
		}
	}
	return status, holder, nil
}

func (n *Node) AcquireResource(name string) (string, error) {
	if !n.Alive() {
		return "", apperrors.Lifecycle(apperrors.ReasonNodeDead, "")
	}
	status, _, err := n.HandleAcquire(name, n.self)
	if err == nil && status == "granted" && !n.registry.Owns(name) {
		n.extMu.Lock()
		n.heldExternal[name] = true
		n.extMu.Unlock()
	}
	return status, err
}

// HandleRelease processes a Release(name, requester0) request.
func (n *Node) HandleRelease(name string, requester0 ringaddr.Addr) (string, error) {
	n.tick()
	n.observe(requester0)
	if n.registry.Owns(name) {
		newHolder, err := n.registry.ReleaseLocal(name, requester0)
		if err != nil {
			return "", err
		}
		if newHolder != nil {
			go n.transport.Grant(*newHolder, name, *newHolder)
		}
		return "released", nil
	}

	next := n.ring.GetNext()
	if next == requester0 || next == n.self {
		return "", apperrors.Resource(apperrors.ReasonUnknownResource, name)
	}
	status, err := n.transport.Release(next, name, requester0)
	if err != nil {
		if ae, ok := apperrors.As(err); ok {
			return "", ae
		}
		go func() { _ = n.Repair(next) }()
		return "", apperrors.Resource(apperrors.ReasonAcquireFailed, name)
	}
	return status, nil
}

func (n *Node) ReleaseResource(name string) (string, error) {
	if !n.Alive() {
		return "", apperrors.Lifecycle(apperrors.ReasonNodeDead, "")
	}
	if n.registry.Owns(name) {
		return n.HandleRelease(name, n.self)
	}
	n.extMu.Lock()
	held := n.heldExternal[name]
	if held {
		delete(n.heldExternal, name)
	}
	n.extMu.Unlock()
	if !held {
		return "", apperrors.Resource(apperrors.ReasonNotHolder, name)
	}
	status, err := n.HandleRelease(name, n.self)
	if err == nil {
		n.detection.SetActive()
	}
	return status, err
}

// HandleGrant is invoked when the owner of a resource we were queued on
// notifies us that we are now the holder.
func (n *Node) HandleGrant(name string, grantee ringaddr.Addr) {
	n.tick()
	n.extMu.Lock()
	n.heldExternal[name] = true
	n.extMu.Unlock()
	n.detection.SetActive()
	n.log.Infof("granted %s", name)
}

// ----- deadlock detection -----

func (n *Node) StartDetection() error {
	if !n.Alive() {
		return apperrors.Lifecycle(apperrors.ReasonNodeDead, "")
	}
	target, err := n.detection.StartDetection()
	if err != nil {
		return err
	}
	go n.transport.Probe(target, n.self, n.self)
	return nil
}

func (n *Node) HandleProbe(initiator, sender ringaddr.Addr) {
	n.tick()
	n.observe(sender)
	result := n.detection.HandleProbe(initiator, sender)
	switch result.Outcome {
	case detection.OutcomeDeadlockDetected:
		n.verdictMu.Lock()
		n.verdicts = append(n.verdicts, Verdict{Initiator: initiator, At: time.Now()})
		n.verdictMu.Unlock()
		n.log.Warnf("deadlock detected: initiator=%s", initiator)
	case detection.OutcomeForward:
		go n.transport.Probe(result.Target, initiator, n.self)
	case detection.OutcomeDrop:
	}
}

func (n *Node) SetActive()  { n.detection.SetActive() }
func (n *Node) SetPassive(waitingFor ringaddr.Addr) { n.detection.SetPassive(waitingFor) }

func (n *Node) Verdicts() []Verdict {
	n.verdictMu.Lock()
	defer n.verdictMu.Unlock()
	out := make([]Verdict, len(n.verdicts))
	copy(out, n.verdicts)
	return out
}

package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringcoord/internal/ringaddr"
)

func addr(port int) ringaddr.Addr { return ringaddr.New("127.0.0.1", port) }

func TestNewManagerStartsSingleton(t *testing.T) {
	m := NewManager(addr(9000))
	assert.True(t, m.IsSingleton())
	snap := m.Snapshot()
	assert.Equal(t, m.Self(), snap.Next)
	assert.Equal(t, m.Self(), snap.NextNext)
	assert.Equal(t, m.Self(), snap.Prev)
}

func TestHandleOtherJoiningOnSingletonTarget(t *testing.T) {
	a := NewManager(addr(9001))
	b := addr(9002)

	reply, notifyPrev, notifyNextNext := a.HandleOtherJoining(b)

	// a now points forward to b, and back to b too (2-node ring).
	assert.Equal(t, b, a.GetNext())
	assert.Equal(t, b, a.GetPrev())
	assert.Equal(t, a.Self(), a.GetNextNext())

	// the joiner is told: next=a.self, nextnext=b (itself), prev=a.self.
	assert.Equal(t, a.Self(), reply.Next)
	assert.Equal(t, b, reply.NextNext)
	assert.Equal(t, a.Self(), reply.Prev)

	// a singleton target has nobody else to notify.
	assert.Nil(t, notifyPrev)
	assert.Nil(t, notifyNextNext)
}

func TestHandleOtherJoiningGeneralCase(t *testing.T) {
	// Three-node ring A -> B -> C -> A is already formed; D joins via A.
	a, b, c := NewManager(addr(1)), NewManager(addr(2)), NewManager(addr(3))
	a.ApplyJoinReply(NeighborInfo{Next: b.Self(), NextNext: c.Self(), Prev: c.Self()})
	b.ApplyJoinReply(NeighborInfo{Next: c.Self(), NextNext: a.Self(), Prev: a.Self()})
	c.ApplyJoinReply(NeighborInfo{Next: a.Self(), NextNext: b.Self(), Prev: b.Self()})

	d := addr(4)
	reply, notifyPrev, notifyNextNext := a.HandleOtherJoining(d)

	// a splices d in as its new next, keeping b as nextnext.
	assert.Equal(t, d, a.GetNext())
	assert.Equal(t, b.Self(), a.GetNextNext())

	// the joiner inherits a's old next/nextnext and points back to a.
	assert.Equal(t, b.Self(), reply.Next)
	assert.Equal(t, c.Self(), reply.NextNext)
	assert.Equal(t, a.Self(), reply.Prev)

	// old next (b) must update its prev to d; old prev (c) its nextnext to d.
	require.NotNil(t, notifyPrev)
	require.NotNil(t, notifyNextNext)
	assert.Equal(t, b.Self(), *notifyPrev)
	assert.Equal(t, c.Self(), *notifyNextNext)
}

func TestPlanLeaveSingleton(t *testing.T) {
	m := NewManager(addr(1))
	plan := m.PlanLeave()
	assert.True(t, plan.WasSingleton)
	assert.True(t, m.IsSingleton())
	assert.False(t, m.InRing())
}

func TestPlanLeaveRingOfTwo(t *testing.T) {
	a := NewManager(addr(1))
	b := addr(2)
	a.ApplyJoinReply(NeighborInfo{Next: b, NextNext: b, Prev: b})

	plan := a.PlanLeave()
	assert.True(t, plan.RingSizeTwo)
	assert.Equal(t, b, plan.Other)
	assert.True(t, a.IsSingleton())
}

func TestPlanLeaveRingOfThree(t *testing.T) {
	// A (self) -> B -> C -> A; A leaves, B and C must become a 2-ring.
	self := addr(1)
	b, c := addr(2), addr(3)
	a := NewManager(self)
	a.ApplyJoinReply(NeighborInfo{Next: b, NextNext: c, Prev: c})

	plan := a.PlanLeave()
	require.True(t, plan.RingSizeThree)
	assert.Equal(t, c, plan.P)
	assert.Equal(t, b, plan.N)
	assert.Equal(t, c, plan.NN)
}

func TestPlanLeaveGeneralCase(t *testing.T) {
	// A (self) -> B -> C -> D -> A, ring size 4; A leaves.
	self := addr(1)
	b, c, d := addr(2), addr(3), addr(4)
	a := NewManager(self)
	a.ApplyJoinReply(NeighborInfo{Next: b, NextNext: c, Prev: d})

	plan := a.PlanLeave()
	require.True(t, plan.General)
	assert.Equal(t, d, plan.P)
	assert.Equal(t, b, plan.N)
	assert.Equal(t, c, plan.NN)
}

func TestPlanRepairPromotesNextNext(t *testing.T) {
	self := addr(1)
	failed, promoted, prev := addr(2), addr(3), addr(4)
	m := NewManager(self)
	m.ApplyJoinReply(NeighborInfo{Next: failed, NextNext: promoted, Prev: prev})

	plan := m.PlanRepair(failed)
	assert.Equal(t, promoted, plan.Promoted)
	assert.Equal(t, prev, plan.Prev)
	assert.True(t, plan.HasPrev)

	m.CompleteRepair(promoted, addr(5))
	assert.Equal(t, promoted, m.GetNext())
	assert.Equal(t, addr(5), m.GetNextNext())
}

func TestQuarantineRejectsStalePointerUpdates(t *testing.T) {
	m := NewManager(addr(1))
	dead := addr(2)
	m.NotifyRepair(dead)

	ok := m.SetNext(dead, addr(3))
	assert.False(t, ok)

	live := addr(4)
	ok = m.SetNext(live, addr(5))
	assert.True(t, ok)
	assert.Equal(t, addr(5), m.GetNext())
}

func TestCollapseResetsToSingleton(t *testing.T) {
	m := NewManager(addr(1))
	m.ApplyJoinReply(NeighborInfo{Next: addr(2), NextNext: addr(3), Prev: addr(4)})
	m.Collapse()
	assert.True(t, m.IsSingleton())
}

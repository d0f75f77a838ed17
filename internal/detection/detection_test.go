package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/ringaddr"
)

func addr(port int) ringaddr.Addr { return ringaddr.New("127.0.0.1", port) }

func TestNewEngineStartsActive(t *testing.T) {
	e := NewEngine(addr(1))
	assert.True(t, e.IsActive())
	_, blocked := e.WaitingFor()
	assert.False(t, blocked)
}

func TestStartDetectionRequiresPassive(t *testing.T) {
	e := NewEngine(addr(1))
	_, err := e.StartDetection()
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ReasonNotBlocked, ae.Reason)
}

func TestStartDetectionReturnsWaitingForTarget(t *testing.T) {
	e := NewEngine(addr(1))
	holder := addr(2)
	e.SetPassive(holder)

	target, err := e.StartDetection()
	require.NoError(t, err)
	assert.Equal(t, holder, target)
}

func TestHandleProbeDropsWhenActive(t *testing.T) {
	e := NewEngine(addr(1))
	result := e.HandleProbe(addr(9), addr(8))
	assert.Equal(t, OutcomeDrop, result.Outcome)
}

func TestHandleProbeDetectsDeadlockOnSelfInitiator(t *testing.T) {
	self := addr(1)
	e := NewEngine(self)
	e.SetPassive(addr(2))

	result := e.HandleProbe(self, addr(2))
	assert.Equal(t, OutcomeDeadlockDetected, result.Outcome)
}

func TestHandleProbeForwardsAlongWaitingFor(t *testing.T) {
	e := NewEngine(addr(1))
	waitingFor := addr(3)
	e.SetPassive(waitingFor)

	result := e.HandleProbe(addr(9), addr(8))
	assert.Equal(t, OutcomeForward, result.Outcome)
	assert.Equal(t, waitingFor, result.Target)
}

func TestHandleProbeDropsDuplicateInitiator(t *testing.T) {
	e := NewEngine(addr(1))
	e.SetPassive(addr(3))
	initiator := addr(9)

	first := e.HandleProbe(initiator, addr(8))
	require.Equal(t, OutcomeForward, first.Outcome)

	second := e.HandleProbe(initiator, addr(8))
	assert.Equal(t, OutcomeDrop, second.Outcome)
}

func TestSetActiveClearsProbeSeen(t *testing.T) {
	e := NewEngine(addr(1))
	e.SetPassive(addr(3))
	initiator := addr(9)
	_ = e.HandleProbe(initiator, addr(8))

	e.SetActive()
	e.SetPassive(addr(3))

	result := e.HandleProbe(initiator, addr(8))
	assert.Equal(t, OutcomeForward, result.Outcome)
}

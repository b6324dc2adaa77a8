package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grantRecorder struct {
	granted  []QueuedReward
	fail     map[int64]error
	panicOn  int64
	suspends []bool
}

func (g *grantRecorder) grant(r QueuedReward) error {
	if r.APItemID == g.panicOn {
		panic("sink exploded")
	}
	if err := g.fail[r.APItemID]; err != nil {
		return err
	}
	g.granted = append(g.granted, r)
	return nil
}

func (g *grantRecorder) suspend(s bool) { g.suspends = append(g.suspends, s) }

func (g *grantRecorder) ids() []int64 {
	out := make([]int64, len(g.granted))
	for i, r := range g.granted {
		out[i] = r.APItemID
	}
	return out
}

func TestRewardQueue_HeldUntilGameplay(t *testing.T) {
	g := &grantRecorder{}
	q := NewRewardQueue(g.grant, g.suspend, nil, nil)

	q.QueueReward(0x100, "Sunrise")
	q.QueueReward(0x13, "Holy Bone S")

	n, err := q.ProcessQueued()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, q.Len())
	assert.Empty(t, g.granted)

	q.SetGrantingEnabled(true)
	n, err = q.ProcessQueued()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, q.Len())
	assert.Equal(t, []int64{0x100, 0x13}, g.ids())

	n, err = q.ProcessQueued()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, g.granted, 2, "each reward is granted exactly once")
}

func TestRewardQueue_FailureIsIsolated(t *testing.T) {
	g := &grantRecorder{fail: map[int64]error{2: errors.New("unknown accessor")}, panicOn: 3}
	q := NewRewardQueue(g.grant, g.suspend, nil, nil)
	q.SetGrantingEnabled(true)

	for i, id := range []int64{1, 2, 3, 4} {
		q.Enqueue(QueuedReward{Index: int64(i), APItemID: id, Name: "reward"})
	}

	n, err := q.ProcessQueued()
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 4}, g.ids())
	require.Error(t, err)
	assert.True(t, IsRewardError(err))
	assert.Contains(t, err.Error(), "unknown accessor")
	assert.Contains(t, err.Error(), "panic: sink exploded")
	assert.Zero(t, q.Len(), "failed rewards are dropped")
}

func TestRewardQueue_SuspendsChecksWhileGranting(t *testing.T) {
	g := &grantRecorder{panicOn: 9}
	q := NewRewardQueue(g.grant, g.suspend, nil, nil)
	q.SetGrantingEnabled(true)

	q.QueueReward(9, "boom")
	_, err := q.ProcessQueued()
	require.Error(t, err)
	assert.Equal(t, []bool{true, false}, g.suspends, "sending is restored even after a failure")

	// Nothing to grant: sending is left alone.
	_, err = q.ProcessQueued()
	require.NoError(t, err)
	assert.Len(t, g.suspends, 2)
}

func TestRewardQueue_SuspendsDeduplicator(t *testing.T) {
	sender := &fakeSender{connected: true}
	d := NewCheckDeduplicator(sender, nil, nil, nil)
	d.EnableSending(true)

	var sentDuringGrant bool
	q := NewRewardQueue(func(QueuedReward) error {
		// A grant that sets a flag the check monitor would observe.
		sentDuringGrant = d.SendCheck(400001)
		return nil
	}, d.Suspend, nil, nil)
	q.SetGrantingEnabled(true)
	q.QueueReward(0x303, "Event")

	_, err := q.ProcessQueued()
	require.NoError(t, err)
	assert.False(t, sentDuringGrant)
	assert.True(t, d.SendingEnabled())
	assert.Empty(t, sender.checkFrames())
}

package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/apsync/internal/store"
)

func newOpenDedup(t *testing.T) (*CheckDeduplicator, *fakeSender, *memStore) {
	t.Helper()
	sender := &fakeSender{connected: true}
	journal := newMemStore()
	d := NewCheckDeduplicator(sender, journal, nil, nil)
	d.Restore(store.NewSessionKey("Ammy", "4242"), nil)
	d.EnableSending(true)
	return d, sender, journal
}

func TestSendCheck_RepeatedCallsTransmitOnce(t *testing.T) {
	d, sender, _ := newOpenDedup(t)

	assert.True(t, d.SendCheck(100012))
	for i := 0; i < 10; i++ {
		assert.False(t, d.SendCheck(100012))
	}

	assert.Equal(t, [][]int64{{100012}}, sender.checkFrames())
}

func TestSendCheck_ConcurrentCallersTransmitOnce(t *testing.T) {
	d, sender, _ := newOpenDedup(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.SendCheck(200003)
		}()
	}
	wg.Wait()

	assert.Len(t, sender.checkFrames(), 1)
}

func TestSendCheck_SuppressedWhileGated(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		suspended bool
		connected bool
	}{
		{"sending disabled", false, false, true},
		{"suspended while granting", true, true, true},
		{"not connected", true, false, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d, sender, _ := newOpenDedup(t)
			d.EnableSending(tt.enabled)
			d.Suspend(tt.suspended)
			sender.connected = tt.connected

			assert.False(t, d.SendCheck(300001))
			assert.False(t, d.IsSent(300001), "suppressed checks are not recorded")
			assert.Empty(t, sender.checkFrames())

			// Dropped, not queued: reopening the gate sends nothing by itself.
			d.EnableSending(true)
			d.Suspend(false)
			sender.connected = true
			assert.Empty(t, sender.checkFrames())
			assert.True(t, d.SendCheck(300001))
		})
	}
}

func TestSendCheck_FailedSendCanBeRetried(t *testing.T) {
	d, sender, journal := newOpenDedup(t)
	sender.err = errTest

	assert.False(t, d.SendCheck(100001))
	assert.False(t, d.IsSent(100001))

	sender.err = nil
	assert.True(t, d.SendCheck(100001))

	ids, err := journal.SentChecks(context.Background(), store.NewSessionKey("Ammy", "4242"))
	require.NoError(t, err)
	assert.Equal(t, []int64{100001}, ids)
}

func TestSyncWithServer_UnionsAndSuppressesLaterSends(t *testing.T) {
	const a, b = int64(100001), int64(100002)
	d, sender, _ := newOpenDedup(t)

	require.True(t, d.SendCheck(a))
	d.SyncWithServer([]int64{a, b})

	assert.Equal(t, []int64{a, b}, d.SentChecks())
	assert.False(t, d.SendCheck(a))
	assert.False(t, d.SendCheck(b))
	assert.Len(t, sender.checkFrames(), 1, "nothing beyond the original send")
}

func TestSyncWithServer_NeverRemovesAndResendsLocalOnly(t *testing.T) {
	d, sender, journal := newOpenDedup(t)
	require.True(t, d.SendCheck(5))
	require.True(t, d.SendCheck(7))

	d.SyncWithServer([]int64{7, 9})

	assert.Equal(t, []int64{5, 7, 9}, d.SentChecks())
	frames := sender.checkFrames()
	require.Len(t, frames, 3)
	assert.Equal(t, []int64{5}, frames[2], "the server never saw 5")

	ids, err := journal.SentChecks(context.Background(), store.NewSessionKey("Ammy", "4242"))
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7, 9}, ids)
}

func TestRestore_SwitchingSessionResetsSet(t *testing.T) {
	d, _, _ := newOpenDedup(t)
	require.True(t, d.SendCheck(1))

	d.Restore(store.NewSessionKey("Ammy", "4242"), []int64{2})
	assert.Equal(t, []int64{1, 2}, d.SentChecks())

	d.Restore(store.NewSessionKey("Ammy", "9999"), []int64{3})
	assert.Equal(t, []int64{3}, d.SentChecks())
}

func TestResendAllChecks(t *testing.T) {
	d, sender, _ := newOpenDedup(t)
	d.MarkConfirmed([]int64{30, 10})
	require.True(t, d.SendCheck(20))

	// Only the connection gates a resend.
	d.EnableSending(false)
	d.ResendAllChecks()

	frames := sender.checkFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, []int64{10, 20, 30}, frames[1])

	sender.connected = false
	d.ResendAllChecks()
	assert.Len(t, sender.checkFrames(), 2)
}

func TestMarkConfirmed_SendsNothing(t *testing.T) {
	d, sender, _ := newOpenDedup(t)
	d.MarkConfirmed([]int64{4, 4, 8})

	assert.Equal(t, []int64{4, 8}, d.SentChecks())
	assert.Empty(t, sender.checkFrames())
	assert.False(t, d.SendCheck(8))
}

func TestSendingEnabled(t *testing.T) {
	d, _, _ := newOpenDedup(t)
	assert.True(t, d.SendingEnabled())
	d.Suspend(true)
	assert.False(t, d.SendingEnabled())
	d.Suspend(false)
	d.EnableSending(false)
	assert.False(t, d.SendingEnabled())
}

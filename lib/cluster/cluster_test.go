package cluster

import (
	"context"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebootFiresSubscription(t *testing.T) {
	tracker := NewRebootTracker()

	fired := 0
	_, err := tracker.CallMeOnChange(document.PeerState{ServerID: "f1", RebootID: 1}, "test", func() { fired++ })
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.Subscriptions())

	// same reboot id, no change
	tracker.UpdateServerState("f1", 1)
	assert.Equal(t, 0, fired)

	// other server
	tracker.UpdateServerState("f2", 7)
	assert.Equal(t, 0, fired)

	tracker.UpdateServerState("f1", 2)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, tracker.Subscriptions())

	// fires at most once
	tracker.UpdateServerState("f1", 3)
	assert.Equal(t, 1, fired)
}

func TestCancelSubscription(t *testing.T) {
	tracker := NewRebootTracker()

	fired := false
	cancel, err := tracker.CallMeOnChange(document.PeerState{ServerID: "f1", RebootID: 1}, "test", func() { fired = true })
	require.NoError(t, err)
	cancel()
	cancel()

	tracker.UpdateServerState("f1", 2)
	assert.False(t, fired)
}

func TestSubscribeToRebootedServer(t *testing.T) {
	tracker := NewRebootTracker()
	tracker.UpdateServerState("f1", 5)

	_, err := tracker.CallMeOnChange(document.PeerState{ServerID: "f1", RebootID: 4}, "test", func() {})
	assert.Error(t, err)

	_, err = tracker.CallMeOnChange(document.PeerState{ServerID: "f1", RebootID: 5}, "test", func() {})
	assert.NoError(t, err)
}

func TestRemoveServer(t *testing.T) {
	tracker := NewRebootTracker()

	fired := 0
	for i := 0; i < 3; i++ {
		_, err := tracker.CallMeOnChange(document.PeerState{ServerID: "f1", RebootID: 1}, "test", func() { fired++ })
		require.NoError(t, err)
	}
	tracker.RemoveServer("f1")
	assert.Equal(t, 3, fired)

	_, known := tracker.RebootID("f1")
	assert.False(t, known)
}

func TestCallbackMayCancel(t *testing.T) {
	tracker := NewRebootTracker()

	var cancel func()
	cancel, err := tracker.CallMeOnChange(document.PeerState{ServerID: "f1", RebootID: 1}, "test", func() { cancel() })
	require.NoError(t, err)

	tracker.UpdateServerState("f1", 2)
	assert.Equal(t, 0, tracker.Subscriptions())
}

func TestTransactionManager(t *testing.T) {
	m := NewTransactionManager()

	cancelled := map[ops.TransactionID]int{}
	m.Register(13, func() { cancelled[13]++ })
	m.Register(9, func() { cancelled[9]++ })
	assert.Equal(t, []ops.TransactionID{9, 13}, m.Managed())

	require.NoError(t, m.AbortManagedTrx(context.Background(), 13, "db"))
	require.NoError(t, m.AbortManagedTrx(context.Background(), 13, "db"))
	assert.Equal(t, 1, cancelled[13])

	m.Unregister(9)
	require.NoError(t, m.AbortManagedTrx(context.Background(), 9, "db"))
	assert.Equal(t, 0, cancelled[9])
	assert.Empty(t, m.Managed())
}

func TestBeginTransaction(t *testing.T) {
	m := NewTransactionManager()

	var aborted []ops.TransactionID
	onAbort := func(tid ops.TransactionID) { aborted = append(aborted, tid) }

	seen := map[ops.TransactionID]bool{}
	for i := 0; i < 100; i++ {
		tid := m.Begin(onAbort)
		assert.True(t, tid.IsLeaderTransaction(), "tid %d", tid)
		assert.False(t, seen[tid], "tid %d reused", tid)
		assert.True(t, m.IsManaged(tid))
		seen[tid] = true
	}
	assert.Len(t, m.Managed(), 100)

	tid := m.Managed()[0]
	require.NoError(t, m.AbortManagedTrx(context.Background(), tid, "db"))
	assert.Equal(t, []ops.TransactionID{tid}, aborted)
	assert.False(t, m.IsManaged(tid))

	other := m.Managed()[0]
	m.Unregister(other)
	assert.False(t, m.IsManaged(other))
	assert.Len(t, aborted, 1)
}

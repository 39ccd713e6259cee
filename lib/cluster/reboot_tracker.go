package cluster

import (
	"sync"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("cluster")

type subscription struct {
	peer        document.PeerState
	description string
	cb          func()
}

// RebootTracker tracks the reboot ids of known servers and notifies subscribers
// once the server they watch restarts or is removed.
// Callbacks are called without holding the tracker lock, so they may call back
// into the tracker.
//
// Thread-safety: All methods are safe for concurrent use.
type RebootTracker struct {
	mu      sync.Mutex
	servers map[string]uint64 // server id -> current reboot id
	subs    map[uint64]*subscription
	nextID  uint64
}

// NewRebootTracker creates an empty tracker
func NewRebootTracker() *RebootTracker {
	return &RebootTracker{
		servers: make(map[string]uint64),
		subs:    make(map[uint64]*subscription),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see document.IRebootTracker)
// --------------------------------------------------------------------------

func (t *RebootTracker) CallMeOnChange(peer document.PeerState, description string, cb func()) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, known := t.servers[peer.ServerID]
	if known && current > peer.RebootID {
		return nil, document.Errorf(document.RetCInternalError,
			"server %s already rebooted (reboot id %d > %d)", peer.ServerID, current, peer.RebootID)
	}
	if !known {
		t.servers[peer.ServerID] = peer.RebootID
	}

	t.nextID++
	id := t.nextID
	t.subs[id] = &subscription{peer: peer, description: description, cb: cb}

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}, nil
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// UpdateServerState records the current reboot id of a server. If it increased,
// every subscription on an older incarnation fires.
func (t *RebootTracker) UpdateServerState(serverID string, rebootID uint64) {
	t.mu.Lock()
	current, known := t.servers[serverID]
	if known && rebootID <= current {
		t.mu.Unlock()
		return
	}
	t.servers[serverID] = rebootID
	fired := t.collect(func(s *subscription) bool {
		return s.peer.ServerID == serverID && s.peer.RebootID < rebootID
	})
	t.mu.Unlock()

	if known {
		log.Infof("server %s rebooted (%d -> %d)", serverID, current, rebootID)
	}
	fire(fired)
}

// RemoveServer forgets a server and fires all of its subscriptions
func (t *RebootTracker) RemoveServer(serverID string) {
	t.mu.Lock()
	delete(t.servers, serverID)
	fired := t.collect(func(s *subscription) bool {
		return s.peer.ServerID == serverID
	})
	t.mu.Unlock()

	log.Infof("server %s removed", serverID)
	fire(fired)
}

// RebootID returns the current reboot id of a server
func (t *RebootTracker) RebootID(serverID string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.servers[serverID]
	return id, ok
}

// Subscriptions returns the number of active subscriptions
func (t *RebootTracker) Subscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// collect removes and returns all subscriptions matching pred (caller holds t.mu)
func (t *RebootTracker) collect(pred func(*subscription) bool) []*subscription {
	var result []*subscription
	for id, s := range t.subs {
		if pred(s) {
			result = append(result, s)
			delete(t.subs, id)
		}
	}
	return result
}

func fire(subs []*subscription) {
	for _, s := range subs {
		log.Debugf("firing reboot callback: %s", s.description)
		s.cb()
	}
}

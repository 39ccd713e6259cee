package snapshot

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("snapshot")

// DefaultBatchSizeLimit is the soft limit of document bytes per batch
const DefaultBatchSizeLimit uint64 = 1 << 20

var (
	snapshotsCreated = metrics.GetOrCreateCounter("ddoc_snapshots_created_total")
	snapshotsAborted = metrics.GetOrCreateCounter("ddoc_snapshots_aborted_total")
	batchesServed    = metrics.GetOrCreateCounter("ddoc_snapshot_batches_total")
	docsServed       = metrics.GetOrCreateCounter("ddoc_snapshot_documents_total")
	bytesServed      = metrics.GetOrCreateCounter("ddoc_snapshot_bytes_total")
)

// entry is a snapshot together with the liveness subscription of its follower
type entry struct {
	snapshot *Snapshot
	peer     document.PeerState

	mu     sync.Mutex
	cancel func()
}

func (e *entry) setCancel(cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel = cancel
}

func (e *entry) unsubscribe() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Handler owns the snapshots of one leader.
//
// Thread-safety: All methods are safe for concurrent use.
type Handler struct {
	database       document.IDatabaseSnapshotFactory
	tracker        document.IRebootTracker
	batchSizeLimit uint64

	snapshots *xsync.MapOf[document.SnapshotID, *entry]
	lastTID   atomic.Uint64
}

// NewHandler creates a snapshot handler. A batchSizeLimit of 0 selects DefaultBatchSizeLimit.
func NewHandler(database document.IDatabaseSnapshotFactory, tracker document.IRebootTracker, batchSizeLimit uint64) *Handler {
	if batchSizeLimit == 0 {
		batchSizeLimit = DefaultBatchSizeLimit
	}
	return &Handler{
		database:       database,
		tracker:        tracker,
		batchSizeLimit: batchSizeLimit,
		snapshots:      xsync.NewMapOf[document.SnapshotID, *entry](),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Create opens a snapshot of shards for the follower peer.
// The snapshot aborts itself as soon as the follower restarts or disappears.
// A follower transfers one snapshot at a time: older snapshots of the same
// server are aborted, their transfer was given up.
func (h *Handler) Create(shards ops.ShardMap, peer document.PeerState) (*Snapshot, error) {
	h.abortSnapshotsOf(peer.ServerID)

	view, err := h.database.CreateSnapshot()
	if err != nil {
		return nil, document.Errorf(document.RetCInternalError, "failed to open read view: %v", err)
	}

	id := document.NewSnapshotID()
	s := newSnapshot(id, view, shards, h.batchSizeLimit, h.nextTransactionID)
	e := &entry{snapshot: s, peer: peer}
	h.snapshots.Store(id, e)

	description := fmt.Sprintf("snapshot %s for %s", id, peer.ServerID)
	cancel, err := h.tracker.CallMeOnChange(peer, description, func() {
		log.Warningf("follower %s (reboot %d) is gone, aborting snapshot %s", peer.ServerID, peer.RebootID, id)
		h.abortAndRemove(id, document.RetCSnapshotAborted)
	})
	if err != nil {
		h.snapshots.Delete(id)
		_ = s.Abort(document.RetCSnapshotAborted)
		return nil, document.Errorf(document.RetCInternalError,
			"failed to watch follower %s: %v", peer.ServerID, err)
	}
	e.setCancel(cancel)

	snapshotsCreated.Inc()
	log.Infof("created snapshot %s of %d shards for %s", id, len(shards), peer.ServerID)
	return s, nil
}

// Find returns the snapshot with the given id
func (h *Handler) Find(id document.SnapshotID) (*Snapshot, error) {
	e, ok := h.snapshots.Load(id)
	if !ok {
		return nil, document.Errorf(document.RetCSnapshotNotFound, "snapshot %s not found", id)
	}
	return e.snapshot, nil
}

// Fetch returns the next batch of a snapshot
func (h *Handler) Fetch(id document.SnapshotID) (document.SnapshotBatch, error) {
	s, err := h.Find(id)
	if err != nil {
		return document.SnapshotBatch{}, err
	}
	return s.Fetch()
}

// Finish finishes a snapshot and removes it
func (h *Handler) Finish(id document.SnapshotID) error {
	s, err := h.Find(id)
	if err != nil {
		return err
	}
	if err := s.Finish(); err != nil {
		return err
	}
	h.remove(id)
	return nil
}

// Abort aborts a snapshot and removes it
func (h *Handler) Abort(id document.SnapshotID) error {
	s, err := h.Find(id)
	if err != nil {
		return err
	}
	if err := s.Abort(document.RetCSnapshotAborted); err != nil {
		return err
	}
	h.remove(id)
	return nil
}

// Status returns the status of a snapshot
func (h *Handler) Status(id document.SnapshotID) (document.SnapshotStatus, error) {
	s, err := h.Find(id)
	if err != nil {
		return document.SnapshotStatus{}, err
	}
	return s.Status(), nil
}

// AllStatuses returns the status of every known snapshot
func (h *Handler) AllStatuses() document.AllSnapshotsStatus {
	result := document.AllSnapshotsStatus{Snapshots: make(map[document.SnapshotID]document.SnapshotStatus)}
	h.snapshots.Range(func(id document.SnapshotID, e *entry) bool {
		result.Snapshots[id] = e.snapshot.Status()
		return true
	})
	return result
}

// GiveUpOnShard removes a dropped shard from all ongoing snapshots
func (h *Handler) GiveUpOnShard(shard ops.ShardID) {
	h.snapshots.Range(func(_ document.SnapshotID, e *entry) bool {
		e.snapshot.GiveUpOnShard(shard)
		return true
	})
}

// Clear aborts and removes all snapshots
func (h *Handler) Clear() {
	h.abortAll(document.RetCSnapshotAborted)
}

// Resign aborts and removes all snapshots. Their followers observe RetCResigned.
func (h *Handler) Resign() {
	h.abortAll(document.RetCResigned)
}

// Len returns the number of known snapshots
func (h *Handler) Len() int {
	return h.snapshots.Size()
}

// IDs returns the ids of all known snapshots in ascending order
func (h *Handler) IDs() []document.SnapshotID {
	var ids []document.SnapshotID
	h.snapshots.Range(func(id document.SnapshotID, _ *entry) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// nextTransactionID allocates the follower transaction id of a data batch
func (h *Handler) nextTransactionID() ops.TransactionID {
	n := h.lastTID.Add(1)
	return ops.TransactionID(4*n + 2)
}

func (h *Handler) remove(id document.SnapshotID) {
	if e, ok := h.snapshots.LoadAndDelete(id); ok {
		e.unsubscribe()
	}
}

func (h *Handler) abortAndRemove(id document.SnapshotID, code document.RetCode) {
	e, ok := h.snapshots.LoadAndDelete(id)
	if !ok {
		return
	}
	if err := e.snapshot.Abort(code); err != nil {
		log.Debugf("snapshot %s not aborted: %v", id, err)
	} else {
		snapshotsAborted.Inc()
	}
	e.unsubscribe()
}

func (h *Handler) abortSnapshotsOf(serverID string) {
	var superseded []document.SnapshotID
	h.snapshots.Range(func(id document.SnapshotID, e *entry) bool {
		if e.peer.ServerID == serverID {
			superseded = append(superseded, id)
		}
		return true
	})
	for _, id := range superseded {
		log.Infof("%s requested a new snapshot, aborting snapshot %s", serverID, id)
		h.abortAndRemove(id, document.RetCSnapshotAborted)
	}
}

func (h *Handler) abortAll(code document.RetCode) {
	for _, id := range h.IDs() {
		h.abortAndRemove(id, code)
	}
}

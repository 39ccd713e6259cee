package snapshot

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/util"
)

// shardStatistics tracks the transfer progress of one shard
type shardStatistics struct {
	docs      uint64
	bytes     uint64
	batches   uint64
	totalDocs *uint64
	sizes     *util.SizeHistogram
}

func (s *shardStatistics) export() document.ShardStatistics {
	return document.ShardStatistics{
		Docs:          s.docs,
		Bytes:         s.bytes,
		Batches:       s.batches,
		TotalDocs:     s.totalDocs,
		AvgDocSize:    s.sizes.AverageSize(),
		MedianDocSize: s.sizes.MedianEstimate(),
	}
}

// Snapshot exports the shards of a group batch by batch.
//
// Shards are transferred one after the other in ascending id order. The first batch
// of a shard carries only its CreateShard operation, the following batches carry up
// to batchSizeLimit bytes of documents each, wrapped in an Insert and a Commit of a
// follower transaction. A shard is dropped from the pending list once its reader is
// exhausted. The last batch of a snapshot is empty and has HasMore == false.
//
// Thread-safety: All methods are safe for concurrent use. Fetch calls are serialised.
type Snapshot struct {
	mu sync.Mutex

	id             document.SnapshotID
	database       document.IDatabaseSnapshot
	shards         ops.ShardMap
	pending        []ops.ShardID
	reader         document.ICollectionReader // reader of pending[0], nil until the shard was opened
	batchSizeLimit uint64
	nextTID        func() ops.TransactionID

	state     document.SnapshotState
	abortCode document.RetCode

	stats     map[ops.ShardID]*shardStatistics
	docs      uint64
	bytes     uint64
	batches   uint64
	startedAt time.Time
}

func newSnapshot(id document.SnapshotID, database document.IDatabaseSnapshot, shards ops.ShardMap,
	batchSizeLimit uint64, nextTID func() ops.TransactionID) *Snapshot {

	stats := make(map[ops.ShardID]*shardStatistics, len(shards))
	for shard := range shards {
		stats[shard] = &shardStatistics{sizes: util.NewSizeHistogram()}
	}

	return &Snapshot{
		id:             id,
		database:       database,
		shards:         shards,
		pending:        shards.SortedShards(),
		batchSizeLimit: batchSizeLimit,
		nextTID:        nextTID,
		state:          document.SnapshotOngoing,
		stats:          stats,
		startedAt:      time.Now(),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// ID returns the id of the snapshot
func (s *Snapshot) ID() document.SnapshotID {
	return s.id
}

// Shards returns the shards the snapshot was created for
func (s *Snapshot) Shards() ops.ShardMap {
	return s.shards
}

// Config returns the reply to the start request of this snapshot
func (s *Snapshot) Config() document.SnapshotConfig {
	return document.SnapshotConfig{ID: s.id, Shards: s.shards}
}

// Fetch produces the next batch. It fails once the snapshot is finished or aborted.
func (s *Snapshot) Fetch() (document.SnapshotBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOngoing(); err != nil {
		return document.SnapshotBatch{}, err
	}

	for len(s.pending) > 0 {
		shard := s.pending[0]

		if s.reader == nil {
			return s.openShard(shard)
		}
		if s.reader.HasMore() {
			return s.readBatch(shard), nil
		}

		log.Debugf("snapshot %s: shard %s exhausted", s.id, shard)
		s.popShard()
	}

	s.batches++
	batchesServed.Inc()
	return document.SnapshotBatch{ID: s.id, HasMore: false}, nil
}

// Finish marks a completely transferred snapshot as finished.
// Finishing a finished snapshot is no error, finishing an aborted one is.
func (s *Snapshot) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case document.SnapshotFinished:
		return nil
	case document.SnapshotAborted:
		return document.Errorf(document.RetCSnapshotAborted, "snapshot %s was aborted", s.id)
	}

	s.state = document.SnapshotFinished
	s.teardown()
	log.Infof("snapshot %s finished after %d batches (%d docs, %d bytes)", s.id, s.batches, s.docs, s.bytes)
	return nil
}

// Abort stops the snapshot. code is reported by later calls of Fetch.
// Aborting an aborted snapshot is no error, aborting a finished one is.
func (s *Snapshot) Abort(code document.RetCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case document.SnapshotAborted:
		return nil
	case document.SnapshotFinished:
		return document.Errorf(document.RetCSnapshotFinished, "snapshot %s is already finished", s.id)
	}

	s.state = document.SnapshotAborted
	s.abortCode = code
	s.teardown()
	snapshotsAborted.Inc()
	log.Infof("snapshot %s aborted (%s)", s.id, code)
	return nil
}

// Status returns the state and the statistics of the snapshot
func (s *Snapshot) Status() document.SnapshotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	shards := make(map[ops.ShardID]document.ShardStatistics, len(s.stats))
	for shard, stats := range s.stats {
		shards[shard] = stats.export()
	}

	return document.SnapshotStatus{
		State: s.state,
		Statistics: document.SnapshotStatistics{
			Shards:    shards,
			Docs:      s.docs,
			Bytes:     s.bytes,
			Batches:   s.batches,
			StartedAt: s.startedAt,
		},
	}
}

// GiveUpOnShard removes a dropped shard from the pending shards.
// If the shard is currently being read, the read view is renewed.
func (s *Snapshot) GiveUpOnShard(shard ops.ShardID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != document.SnapshotOngoing {
		return
	}

	for i, pending := range s.pending {
		if pending != shard {
			continue
		}

		if i == 0 && s.reader != nil {
			s.reader = nil
			if err := s.database.ResetTransaction(); err != nil {
				log.Warningf("snapshot %s: failed to reset read view: %v", s.id, err)
			}
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		log.Infof("snapshot %s: gave up on dropped shard %s", s.id, shard)
		return
	}
}

// --------------------------------------------------------------------------
// Helper Methods (callers hold s.mu)
// --------------------------------------------------------------------------

func (s *Snapshot) checkOngoing() error {
	switch s.state {
	case document.SnapshotFinished:
		return document.Errorf(document.RetCSnapshotFinished, "snapshot %s is already finished", s.id)
	case document.SnapshotAborted:
		code := s.abortCode
		if code == document.RetCSuccess {
			code = document.RetCSnapshotAborted
		}
		return document.Errorf(code, "snapshot %s was aborted", s.id)
	}
	return nil
}

// openShard creates the reader of a shard and returns the batch announcing it
func (s *Snapshot) openShard(shard ops.ShardID) (document.SnapshotBatch, error) {
	reader, err := s.database.CreateCollectionReader(shard)
	if err != nil {
		return document.SnapshotBatch{}, document.Errorf(document.RetCInternalError,
			"snapshot %s: failed to read shard %s: %v", s.id, shard, err)
	}
	s.reader = reader

	stats := s.stats[shard]
	if count, ok := reader.GetDocCount(); ok {
		stats.totalDocs = &count
	}
	stats.batches++
	s.batches++
	batchesServed.Inc()

	props := s.shards[shard]
	return document.SnapshotBatch{
		ID:      s.id,
		Shard:   &shard,
		HasMore: true,
		Operations: []ops.Operation{
			ops.CreateShard{Shard: shard, Collection: props.Collection, Properties: props.Properties},
		},
	}, nil
}

// readBatch reads the next documents of the current shard
func (s *Snapshot) readBatch(shard ops.ShardID) document.SnapshotBatch {
	stats := s.stats[shard]

	var docs [][]byte
	var size uint64
	s.reader.Read(func(doc []byte) {
		docs = append(docs, doc)
		size += uint64(len(doc))
		stats.sizes.AddSample(len(doc))
	}, s.batchSizeLimit)

	stats.docs += uint64(len(docs))
	stats.bytes += size
	stats.batches++
	s.docs += uint64(len(docs))
	s.bytes += size
	s.batches++

	batchesServed.Inc()
	docsServed.Add(len(docs))
	bytesServed.Add(int(size))

	tid := s.nextTID()
	return document.SnapshotBatch{
		ID:      s.id,
		Shard:   &shard,
		HasMore: true,
		Operations: []ops.Operation{
			ops.Insert{TID: tid, Shard: shard, Payload: docs},
			ops.Commit{TID: tid},
		},
	}
}

func (s *Snapshot) popShard() {
	s.pending = s.pending[1:]
	s.reader = nil
}

// teardown releases the read view
func (s *Snapshot) teardown() {
	s.pending = nil
	s.reader = nil
	s.database = nil
}

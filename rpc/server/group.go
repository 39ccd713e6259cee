package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/lib/document/replica"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"go.uber.org/multierr"
)

// serverGroup is one replicated group hosted by the RPC server.
// Exactly one of leader and follower is set.
type serverGroup struct {
	id       uint64
	stream   document.IStream
	adapter  IRPCServerAdapter
	leader   *replica.LeaderState
	follower *replica.FollowerState
	remote   *client.RPCLeader
}

// syncer is implemented by streams that have to catch up with the log before use (dstream)
type syncer interface {
	Sync(ctx context.Context) (ops.LogIndex, error)
}

// --------------------------------------------------------------------------
// Leader
// --------------------------------------------------------------------------

// recover replays the local log into the leader state
func (g *serverGroup) recover(ctx context.Context) error {
	if s, ok := g.stream.(syncer); ok {
		idx, err := s.Sync(ctx)
		if err != nil {
			return fmt.Errorf("failed to sync the log of group %d: %w", g.id, err)
		}
		Logger.Infof("log of group %d synced up to index %d", g.id, idx)
	}
	return g.leader.RecoverEntries(ctx, g.stream.Iterator(1))
}

// --------------------------------------------------------------------------
// Follower
// --------------------------------------------------------------------------

// follow acquires a snapshot of the leader and applies the log afterwards.
// The snapshot transfer is retried while the leader is unavailable.
func (g *serverGroup) follow(ctx context.Context, retryInterval time.Duration) error {
	for {
		stats, err := g.follower.AcquireSnapshot(ctx)
		if err == nil {
			Logger.Infof("group %d: snapshot with %d docs in %d shards acquired (%.0f bytes/s)",
				g.id, stats.Docs, len(stats.Shards), g.follower.TransferRate())
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return fmt.Errorf("group %d: snapshot transfer failed: %w", g.id, err)
		}

		Logger.Warningf("group %d: snapshot transfer failed, retrying in %s: %v", g.id, retryInterval, err)
		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := replica.RunFollower(ctx, g.follower, g.stream)
	if errors.Is(err, context.Canceled) || errors.Is(err, document.ErrResigned) {
		return nil
	}
	return err
}

// retryable reports whether a failed snapshot transfer may be started again.
// RetCResigned is retried as well: the leader may have resigned. A resigned
// follower is stopped by the cancellation of the context.
func retryable(err error) bool {
	switch document.CodeOf(err) {
	case document.RetCLeaderUnavailable, document.RetCSnapshotAborted, document.RetCSnapshotNotFound, document.RetCResigned:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// resign resigns the state of the group and closes its connections
func (g *serverGroup) resign() error {
	var err error
	if g.leader != nil {
		if _, resignErr := g.leader.Resign(); resignErr != nil && !errors.Is(resignErr, document.ErrResigned) {
			err = multierr.Append(err, resignErr)
		}
	}
	if g.follower != nil {
		if _, resignErr := g.follower.Resign(); resignErr != nil && !errors.Is(resignErr, document.ErrResigned) {
			err = multierr.Append(err, resignErr)
		}
	}
	if g.remote != nil {
		err = multierr.Append(err, g.remote.Close())
	}
	// wakes up readers of a local stream
	if c, ok := g.stream.(interface{ Close() }); ok {
		c.Close()
	}
	return err
}

// role returns the role of the server in the group
func (g *serverGroup) role() common.GroupRole {
	if g.leader != nil {
		return common.GroupRoleLeader
	}
	return common.GroupRoleFollower
}

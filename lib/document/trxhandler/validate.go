package trxhandler

import (
	"github.com/ValentinKolb/dDoc/lib/document/ops"
)

// Decision is the result of validating an operation before it is applied
type Decision uint8

const (
	DecisionApply Decision = iota
	DecisionSkip
)

func (d Decision) String() string {
	if d == DecisionSkip {
		return "skip"
	}
	return "apply"
}

// Validate decides whether op should be applied, given which shards are available.
// Operations that reference an unavailable shard are skipped, with the exception of
// CreateShard which makes the shard available. Transaction control operations are
// always applied.
func Validate(op ops.Operation, isShardAvailable func(ops.ShardID) bool) Decision {
	switch op.(type) {
	case ops.CreateShard:
		return DecisionApply
	case ops.AbortAllOngoingTrx, ops.Commit, ops.Abort, ops.IntermediateCommit:
		return DecisionApply
	}

	if shard, ok := ops.ShardOf(op); ok && !isShardAvailable(shard) {
		return DecisionSkip
	}
	return DecisionApply
}

package doc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/spf13/cobra"
)

var (
	beginCmd = &cobra.Command{
		Use:   "begin",
		Short: "Opens a transaction, pass its id to other commands with --trx",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := util.RequestContext()
			defer cancel()

			tid, err := rpcDocuments.Begin(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("trx=%d\n", tid)
			return nil
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [shard] [document]...",
		Short: "Inserts json documents, every document needs a _key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inTransaction(func(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
				return rpcDocuments.Insert(ctx, tid, ops.ShardID(args[0]), documents(args[1:])...)
			})
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [shard] [document]...",
		Short: "Merges json documents into the stored documents with the same _key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inTransaction(func(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
				return rpcDocuments.Update(ctx, tid, ops.ShardID(args[0]), documents(args[1:])...)
			})
		},
	}
	replaceCmd = &cobra.Command{
		Use:   "replace [shard] [document]...",
		Short: "Replaces the stored documents with the same _key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inTransaction(func(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
				return rpcDocuments.Replace(ctx, tid, ops.ShardID(args[0]), documents(args[1:])...)
			})
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [shard] [key]...",
		Short: "Removes documents by key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inTransaction(func(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
				return rpcDocuments.Remove(ctx, tid, ops.ShardID(args[0]), args[1:]...)
			})
		},
	}
	truncateCmd = &cobra.Command{
		Use:   "truncate [shard]",
		Short: "Removes all documents of a shard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inTransaction(func(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error) {
				return rpcDocuments.Truncate(ctx, tid, ops.ShardID(args[0]))
			})
		},
	}
	intermediateCommitCmd = &cobra.Command{
		Use:   "intermediate-commit [trx]",
		Short: "Persists the changes of a transaction so far, the transaction stays open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return endTransaction(args[0], "intermediate commit", rpcDocuments.IntermediateCommit)
		},
	}
	commitCmd = &cobra.Command{
		Use:   "commit [trx]",
		Short: "Commits a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return endTransaction(args[0], "commit", rpcDocuments.Commit)
		},
	}
	abortCmd = &cobra.Command{
		Use:   "abort [trx]",
		Short: "Aborts a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return endTransaction(args[0], "abort", rpcDocuments.Abort)
		},
	}
)

// endTransaction runs a commit or abort of the transaction arg
func endTransaction(arg, name string, end func(context.Context, ops.TransactionID) (ops.LogIndex, error)) error {
	tid, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("trx must be a number: %w", err)
	}

	ctx, cancel := util.RequestContext()
	defer cancel()

	idx, err := end(ctx, ops.TransactionID(tid))
	if err != nil {
		return fmt.Errorf("%s of transaction %d failed: %w", name, tid, err)
	}
	fmt.Printf("trx=%d index=%d\n", tid, idx)
	return nil
}

func documents(args []string) [][]byte {
	docs := make([][]byte, len(args))
	for i, arg := range args {
		docs[i] = []byte(arg)
	}
	return docs
}

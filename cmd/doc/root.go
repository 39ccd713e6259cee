package doc

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	rpcDocuments *client.RPCDocuments

	// trxID is the transaction of a document command, 0 runs the command in its own transaction
	trxID uint64

	// DocumentCommands represents the document command group
	DocumentCommands = &cobra.Command{
		Use:                "doc",
		Short:              "Replicate document operations through the leader of a group",
		PersistentPreRunE:  setupDocumentClient,
		PersistentPostRunE: closeDocumentClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(DocumentCommands)

	DocumentCommands.PersistentFlags().Uint64Var(&trxID, "trx", 0,
		util.WrapString("Transaction of the operation (see doc begin). Without a transaction the operation is committed on its own"))

	// Add subcommands
	DocumentCommands.AddCommand(beginCmd)
	DocumentCommands.AddCommand(insertCmd)
	DocumentCommands.AddCommand(updateCmd)
	DocumentCommands.AddCommand(replaceCmd)
	DocumentCommands.AddCommand(removeCmd)
	DocumentCommands.AddCommand(truncateCmd)
	DocumentCommands.AddCommand(intermediateCommitCmd)
	DocumentCommands.AddCommand(commitCmd)
	DocumentCommands.AddCommand(abortCmd)
}

// setupDocumentClient initializes the document client
func setupDocumentClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcDocuments, err = client.NewRPCDocuments(util.GetGroupID(), util.GetClientConfig(), t, s)
	return err
}

func closeDocumentClient(_ *cobra.Command, _ []string) error {
	return rpcDocuments.Close()
}

// inTransaction runs op in the transaction given by --trx. Without --trx a new
// transaction is opened and committed after op, or aborted if op fails.
func inTransaction(op func(ctx context.Context, tid ops.TransactionID) (ops.LogIndex, error)) error {
	ctx, cancel := util.RequestContext()
	defer cancel()

	if trxID != 0 {
		tid := ops.TransactionID(trxID)
		idx, err := op(ctx, tid)
		if err != nil {
			return err
		}
		fmt.Printf("trx=%d index=%d\n", tid, idx)
		return nil
	}

	tid, err := rpcDocuments.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := op(ctx, tid); err != nil {
		if _, abortErr := rpcDocuments.Abort(ctx, tid); abortErr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to abort transaction %d: %w", tid, abortErr))
		}
		return err
	}
	idx, err := rpcDocuments.Commit(ctx, tid)
	if err != nil {
		return fmt.Errorf("failed to commit transaction %d: %w", tid, err)
	}
	fmt.Printf("trx=%d committed=%d\n", tid, idx)
	return nil
}

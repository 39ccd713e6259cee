package snapshot

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/db/engines/docstore"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/replica"
	"github.com/ValentinKolb/dDoc/lib/stream/lstream"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	// SnapshotCommands represents the snapshot command group
	SnapshotCommands = &cobra.Command{
		Use:               "snapshot",
		Short:             "Inspect and transfer snapshots of a group leader",
		PersistentPreRunE: bindFlags,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status [snapshot-id]",
		Short: "Print the status of one or all snapshots of the leader",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}

	// pullCmd represents the pull command
	pullCmd = &cobra.Command{
		Use:   "pull",
		Short: "Transfer a complete snapshot into memory and print its statistics",
		Long:  "Acquire a snapshot of the leader like a new follower would do. The documents are kept in memory and discarded afterwards, the command reports the transfer statistics.",
		Args:  cobra.NoArgs,
		RunE:  runPull,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	SnapshotCommands.AddCommand(statusCmd)
	SnapshotCommands.AddCommand(pullCmd)

	util.SetupRPCClientFlags(SnapshotCommands)
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

// runStatus handles the status command
func runStatus(_ *cobra.Command, args []string) error {
	admin, err := newAdmin()
	if err != nil {
		return err
	}
	defer admin.Close()

	ctx, cancel := util.RequestContext()
	defer cancel()

	if len(args) == 1 {
		status, err := admin.SnapshotStatus(ctx, document.SnapshotID(args[0]))
		if err != nil {
			return fmt.Errorf("failed to get snapshot status: %v", err)
		}
		return util.PrintJSON(status)
	}

	status, err := admin.AllSnapshotsStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get snapshot status: %v", err)
	}
	return util.PrintJSON(status)
}

// runPull handles the pull command
func runPull(cmd *cobra.Command, _ []string) error {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// every pull is a new incarnation of a new peer
	peer := document.PeerState{
		ServerID: "ddoc-cli-" + uuid.NewString(),
		RebootID: uint64(time.Now().Unix()),
	}
	leader, err := client.NewRPCLeader(util.GetGroupID(), peer, util.GetClientConfig(), t, s)
	if err != nil {
		return err
	}
	defer leader.Close()

	engine := docstore.NewDocstore()
	follower := replica.NewFollowerState(replica.NewCore("cli", engine), lstream.NewLocalStream(), leader)

	stats, err := follower.AcquireSnapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("snapshot transfer failed: %v", err)
	}

	fmt.Printf("transferred %d docs (%d bytes) of %d shards in %d batches, %.0f bytes/s\n",
		stats.Docs, stats.Bytes, len(stats.Shards), stats.Batches, follower.TransferRate())
	return util.PrintJSON(stats)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func newAdmin() (*client.RPCAdmin, error) {
	s, err := util.GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := util.GetTransport()
	if err != nil {
		return nil, err
	}
	return client.NewRPCAdmin(util.GetGroupID(), util.GetClientConfig(), t, s)
}

package shard

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/document/ops"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcAdmin *client.RPCAdmin

	// ShardCommands represents the shard command group
	ShardCommands = &cobra.Command{
		Use:                "shard",
		Short:              "Manage the shards of a group",
		PersistentPreRunE:  setupAdminClient,
		PersistentPostRunE: closeAdminClient,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List the shards of the group",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	createCmd = &cobra.Command{
		Use:   "create [shard] [collection] [properties]",
		Short: "Create a shard on the leader and all followers",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runCreate,
	}

	modifyCmd = &cobra.Command{
		Use:   "modify [shard] [collection] [properties]",
		Short: "Change the properties of a shard",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runModify,
	}

	dropCmd = &cobra.Command{
		Use:   "drop [shard] [collection]",
		Short: "Drop a shard with all its documents",
		Args:  cobra.ExactArgs(2),
		RunE:  runDrop,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	ShardCommands.AddCommand(listCmd)
	ShardCommands.AddCommand(createCmd)
	ShardCommands.AddCommand(modifyCmd)
	ShardCommands.AddCommand(dropCmd)

	util.SetupRPCClientFlags(ShardCommands)
}

// setupAdminClient initializes the admin client
func setupAdminClient(cmd *cobra.Command, _ []string) error {
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

	rpcAdmin, err = client.NewRPCAdmin(util.GetGroupID(), util.GetClientConfig(), t, s)
	return err
}

func closeAdminClient(_ *cobra.Command, _ []string) error {
	return rpcAdmin.Close()
}

func runList(_ *cobra.Command, _ []string) error {
	ctx, cancel := util.RequestContext()
	defer cancel()

	shards, err := rpcAdmin.ShardMap(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shards: %v", err)
	}
	for _, id := range shards.SortedShards() {
		props := shards[id]
		fmt.Printf("%s\tcollection=%s\tproperties=%s\n", id, props.Collection, props.Properties)
	}
	return nil
}

func runCreate(_ *cobra.Command, args []string) error {
	ctx, cancel := util.RequestContext()
	defer cancel()

	if err := rpcAdmin.CreateShard(ctx, ops.ShardID(args[0]), ops.CollectionID(args[1]), properties(args)); err != nil {
		return fmt.Errorf("failed to create shard: %v", err)
	}
	fmt.Printf("created=%s\n", args[0])
	return nil
}

func runModify(_ *cobra.Command, args []string) error {
	ctx, cancel := util.RequestContext()
	defer cancel()

	if err := rpcAdmin.ModifyShard(ctx, ops.ShardID(args[0]), ops.CollectionID(args[1]), properties(args)); err != nil {
		return fmt.Errorf("failed to modify shard: %v", err)
	}
	fmt.Printf("modified=%s\n", args[0])
	return nil
}

func runDrop(_ *cobra.Command, args []string) error {
	ctx, cancel := util.RequestContext()
	defer cancel()

	if err := rpcAdmin.DropShard(ctx, ops.ShardID(args[0]), ops.CollectionID(args[1])); err != nil {
		return fmt.Errorf("failed to drop shard: %v", err)
	}
	fmt.Printf("dropped=%s\n", args[0])
	return nil
}

// properties returns the optional third argument
func properties(args []string) []byte {
	if len(args) < 3 {
		return nil
	}
	return []byte(args[2])
}

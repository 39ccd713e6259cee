package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dDoc/cmd/doc"
	"github.com/ValentinKolb/dDoc/cmd/serve"
	"github.com/ValentinKolb/dDoc/cmd/shard"
	"github.com/ValentinKolb/dDoc/cmd/snapshot"
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ddoc",
		Short: "replicated document state machine",
		Long: fmt.Sprintf(`dDoc (v%s)

A replicated document store written in Go. Leaders append document
operations to a replicated log, followers replay them and catch up
with a consistent snapshot of the leader.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dDoc",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dDoc v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(snapshot.SnapshotCommands)
	RootCmd.AddCommand(shard.ShardCommands)
	RootCmd.AddCommand(doc.DocumentCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

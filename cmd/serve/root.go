package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/ValentinKolb/dDoc/rpc/transport/tcp"
	"github.com/ValentinKolb/dDoc/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dDoc server",
		Long:    `Start the dDoc server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "groups"
	ServeCmd.PersistentFlags().String(key, "100=leader", cmdUtil.WrapString("Comma-separated list of replicated groups to serve. Format: ID=ROLE where ROLE is leader or follower(ENDPOINT), ENDPOINT being the address of the leader"))

	key = "stream"
	ServeCmd.PersistentFlags().String(key, "local", cmdUtil.WrapString("The log of the groups: local (single server) or raft (replicated with dragonboat, required for followers)"))

	key = "database"
	ServeCmd.PersistentFlags().String(key, "ddoc", cmdUtil.WrapString("Name of the database the groups belong to"))

	key = "server-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Unique name of this server (defaults to the hostname)"))

	key = "reboot-id"
	ServeCmd.PersistentFlags().Uint64(key, 0, cmdUtil.WrapString("Incarnation of this server, must increase with every restart (defaults to the current unix time)"))

	key = "snapshot-batch-size"
	ServeCmd.PersistentFlags().Uint64(key, 1024, cmdUtil.WrapString("Soft limit of the size of a snapshot batch in KB"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value*1) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(raft) SnapshotEntries defines how often the raft log should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(raft) CompactionOverhead defines the number of entries that should be retained after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(raft) DataDir is the directory used for storing the raft log and its snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds of requests and raft proposals"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/ddoc.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of requests processed concurrently per connection (tcp and unix only)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval in seconds (only for tcp)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, cmdUtil.WrapString("The linger time in seconds (only for tcp, -1 keeps the os default)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "log-format"
	ServeCmd.PersistentFlags().String(key, "console", cmdUtil.WrapString("Format of the logs (console, json)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	groups, err := ParseGroups(viper.GetString("groups"))
	if err != nil {
		return err
	}
	serveCmdConfig.Groups = groups
	serveCmdConfig.Stream = common.StreamType(viper.GetString("stream"))

	serveCmdConfig.Database = viper.GetString("database")
	serveCmdConfig.ServerID = viper.GetString("server-id")
	if serveCmdConfig.ServerID == "" {
		if serveCmdConfig.ServerID, err = os.Hostname(); err != nil {
			return fmt.Errorf("server id is required: %v", err)
		}
	}
	serveCmdConfig.RebootID = viper.GetUint64("reboot-id")
	if serveCmdConfig.RebootID == 0 {
		serveCmdConfig.RebootID = uint64(time.Now().Unix())
	}
	serveCmdConfig.SnapshotBatchSize = viper.GetUint64("snapshot-batch-size") * 1024

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.LogFormat = viper.GetString("log-format")

	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	if serveCmdConfig.UsesRaft() {
		id := viper.GetString("replica-id")
		if id == "" {
			return fmt.Errorf("replica-id is required for the raft stream")
		}
		serveCmdConfig.ReplicaID = util.HashString(id, 0)

		if serveCmdConfig.ClusterMembers, err = ParseClusterMembers(viper.GetString("cluster-members")); err != nil {
			return err
		}
	}

	return serveCmdConfig.Validate()
}

// run starts the dDoc server and serves until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel, serveCmdConfig.LogFormat); err != nil {
		return err
	}

	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport()
	case "unix":
		t = unix.NewUnixServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	clientTransport, err := cmdUtil.ClientTransportFactory()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serv := server.NewRPCServer(*serveCmdConfig, t, clientTransport, s)
	return serv.Serve(ctx)
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// ParseGroups parses a list of groups like "100=leader,200=follower(host:8080)"
func ParseGroups(value string) ([]common.ServerGroup, error) {
	var groups []common.ServerGroup
	for _, groupConfig := range strings.Split(value, ",") {
		groupConfig = strings.TrimSpace(groupConfig)
		if groupConfig == "" {
			continue
		}

		id, role, ok := strings.Cut(groupConfig, "=")
		if !ok {
			return nil, fmt.Errorf("invalid group format: %s (expected ID=ROLE)", groupConfig)
		}

		groupID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid group ID %s: %v", id, err)
		}

		group := common.ServerGroup{GroupID: groupID}
		role = strings.TrimSpace(role)

		switch {
		case role == string(common.GroupRoleLeader):
			group.Role = common.GroupRoleLeader
		case strings.HasPrefix(role, "follower(") && strings.HasSuffix(role, ")"):
			group.Role = common.GroupRoleFollower
			group.Leader = strings.TrimSuffix(strings.TrimPrefix(role, "follower("), ")")
			if group.Leader == "" {
				return nil, fmt.Errorf("group %d: follower without leader endpoint", groupID)
			}
		default:
			return nil, fmt.Errorf("invalid role: %s (expected one of: leader, follower(ENDPOINT))", role)
		}

		groups = append(groups, group)
	}

	if len(groups) == 0 {
		return nil, fmt.Errorf("no groups configured")
	}
	return groups, nil
}

// ParseClusterMembers parses a list of raft members like "node-1=localhost:63001,node-2=localhost:63002".
// The names are hashed to replica ids.
func ParseClusterMembers(value string) (map[uint64]string, error) {
	if value == "" {
		return nil, fmt.Errorf("cluster-members is required for the raft stream")
	}
	members := make(map[uint64]string)
	for _, member := range strings.Split(value, ",") {
		name, address, ok := strings.Cut(member, "=")
		if !ok || name == "" || address == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[util.HashString(strings.TrimSpace(name), 0)] = strings.TrimSpace(address)
	}
	return members, nil
}

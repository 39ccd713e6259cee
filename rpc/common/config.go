package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the raft stream)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the Dragonboat Config of one group
func (c *ServerConfig) ToDragonboatConfig(groupID uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            groupID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// SocketConf holds the buffer sizes of socket based transports (tcp, unix)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds the tcp specific settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ServerTransportConfig configures the server side of a transport
type ServerTransportConfig struct {
	// Endpoint the server listens on (host:port or socket path)
	Endpoint string
	// WorkersPerConn limits the requests processed concurrently per connection
	WorkersPerConn int
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the client side of a transport
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// GroupRole is the role this server plays in a replicated group
type GroupRole string

const (
	GroupRoleLeader   GroupRole = "leader"
	GroupRoleFollower GroupRole = "follower"
)

// StreamType selects the log implementation of all groups
type StreamType string

const (
	StreamTypeLocal StreamType = "local"
	StreamTypeRaft  StreamType = "raft"
)

// ServerGroup is one replicated group hosted by the server
type ServerGroup struct {
	// GroupID is the ID of the group (also the raft shard id)
	GroupID uint64
	// Role of this server in the group
	Role GroupRole
	// Leader is the endpoint of the group leader (followers only)
	Leader string
}

// ServerConfig holds all configuration parameters of a dDoc server
type ServerConfig struct {
	// Groups hosted by this server
	Groups []ServerGroup
	// Stream type used for all groups
	Stream StreamType

	// Identity of this server process
	Database string
	ServerID string
	RebootID uint64

	// SnapshotBatchSize is the soft byte limit of snapshot batches
	SnapshotBatchSize uint64

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Timeout of raft requests and connections
	TimeoutSecond int64

	Transport ServerTransportConfig

	// Logging configuration
	LogLevel  string
	LogFormat string
}

// UsesRaft checks if the groups are replicated with raft
func (c *ServerConfig) UsesRaft() bool {
	return c.Stream == StreamTypeRaft
}

// Validate checks the configuration for consistency
func (c *ServerConfig) Validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("no groups configured")
	}
	seen := make(map[uint64]bool, len(c.Groups))
	for _, group := range c.Groups {
		if seen[group.GroupID] {
			return fmt.Errorf("group %d configured twice", group.GroupID)
		}
		seen[group.GroupID] = true

		switch group.Role {
		case GroupRoleLeader:
		case GroupRoleFollower:
			if group.Leader == "" {
				return fmt.Errorf("follower of group %d has no leader endpoint", group.GroupID)
			}
			if !c.UsesRaft() {
				return fmt.Errorf("follower of group %d requires the raft stream", group.GroupID)
			}
		default:
			return fmt.Errorf("invalid role %q of group %d", group.Role, group.GroupID)
		}
	}

	switch c.Stream {
	case StreamTypeLocal:
	case StreamTypeRaft:
		if len(c.ClusterMembers) == 0 {
			return fmt.Errorf("cluster members are required for the raft stream")
		}
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			return fmt.Errorf("no address found for replica ID %d in cluster members", c.ReplicaID)
		}
	default:
		return fmt.Errorf("invalid stream type %q", c.Stream)
	}

	if c.ServerID == "" {
		return fmt.Errorf("server id is required")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Identity
	addSection("Server")
	addField("Database", c.Database)
	addField("Server ID", c.ServerID)
	addField("Reboot ID", strconv.FormatUint(c.RebootID, 10))
	addField("Snapshot Batch Size", fmt.Sprintf("%d bytes", c.SnapshotBatchSize))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)

	// Groups
	addSection("Groups")
	addField("Stream", string(c.Stream))
	for _, group := range c.Groups {
		role := string(group.Role)
		if group.Role == GroupRoleFollower {
			role = fmt.Sprintf("%s of %s", role, group.Leader)
		}
		addField(strconv.FormatUint(group.GroupID, 10), role)
	}

	if c.UsesRaft() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.Transport.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

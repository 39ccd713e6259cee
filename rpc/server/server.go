package server

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dDoc/lib/cluster"
	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/docstore"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/document/replica"
	"github.com/ValentinKolb/dDoc/lib/stream/dstream"
	"github.com/ValentinKolb/dDoc/lib/stream/lstream"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("rpc")

const (
	// followerRetryInterval is the pause between two snapshot transfer attempts
	followerRetryInterval = 2 * time.Second
	// leaderRetryCount is the number of attempts of a request to the leader
	leaderRetryCount = 3
)

// NewRPCServer creates a new RPC server.
// clientTransport creates the transports followers use to reach their leaders.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		tcp.NewTCPClientTransport,
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	clientTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:          config,
		transport:       transport,
		clientTransport: clientTransport,
		serializer:      serializer,
		engineFactory:   docstore.NewDocstore,
		groups:          xsync.NewMapOf[uint64, *serverGroup](),
		tracker:         cluster.NewRebootTracker(),
		trxManager:      cluster.NewTransactionManager(),
	}
}

// RPCServer hosts the replicated groups of one server process and answers their RPC requests
type RPCServer struct {
	config          common.ServerConfig
	transport       transport.IRPCServerTransport
	clientTransport func() transport.IRPCClientTransport
	serializer      serializer.IRPCSerializer
	engineFactory   db.EngineFactory

	groups     *xsync.MapOf[uint64, *serverGroup]
	tracker    *cluster.RebootTracker
	trxManager *cluster.TransactionManager
	nodeHost   *dragonboat.NodeHost
	registry   *dstream.Registry
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Serve initializes the groups and serves requests until ctx is done or a group fails.
// Leader groups replay their log before the transport is started, follower groups
// acquire a snapshot of their leader and apply the log in the background.
func (s *RPCServer) Serve(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		s.shutdown()
		return err
	}
	s.registerTransportHandler()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.transport.Listen(s.config)
	})

	s.groups.Range(func(_ uint64, group *serverGroup) bool {
		if group.follower != nil {
			g.Go(func() error {
				return group.follow(ctx, followerRetryInterval)
			})
		}
		return true
	})

	// stop everything once the context is done or one of the loops failed
	g.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	err := g.Wait()
	Logger.Infof("RPC server stopped")
	return err
}

// Leader returns the leader state of a group led by this server
func (s *RPCServer) Leader(groupID uint64) (*replica.LeaderState, bool) {
	group, ok := s.groups.Load(groupID)
	if !ok || group.leader == nil {
		return nil, false
	}
	return group.leader, true
}

// Follower returns the follower state of a group followed by this server
func (s *RPCServer) Follower(groupID uint64) (*replica.FollowerState, bool) {
	group, ok := s.groups.Load(groupID)
	if !ok || group.follower == nil {
		return nil, false
	}
	return group.follower, true
}

// TransactionManager returns the manager of the user transactions of this server
func (s *RPCServer) TransactionManager() *cluster.TransactionManager {
	return s.trxManager
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) registerTransportHandler() {
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	s.transport.RegisterHandler(func(groupID uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		group, ok := s.groups.Load(groupID)
		if !ok {
			respMsg = common.NewErrorResponse(document.RetCInvalidOperation, fmt.Sprintf("group %d not found", groupID))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(document.RetCInternalError, fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
			}
			respMsg = group.adapter.Handle(ctx, &msg)
			cancel()
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response to %s: %v", msg.MsgType, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(document.RetCInternalError,
				fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// init creates all groups of the configuration
func (s *RPCServer) init(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	// the NodeHost is only needed for the raft stream
	if s.config.UsesRaft() {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
		s.registry = dstream.NewRegistry()
	}

	for _, groupConfig := range s.config.Groups {
		group, err := s.createGroup(groupConfig)
		if err != nil {
			return err
		}
		s.groups.Store(group.id, group)

		if group.leader != nil {
			if err := group.recover(ctx); err != nil {
				return fmt.Errorf("failed to recover group %d: %w", group.id, err)
			}
		}
		Logger.Infof("created group %d as %s", group.id, group.role())
	}

	Logger.Infof("dDoc setup completed successfully")
	return nil
}

// createGroup creates the stream, the storage and the replica state of one group
func (s *RPCServer) createGroup(config common.ServerGroup) (*serverGroup, error) {
	stream, err := s.createStream(config.GroupID)
	if err != nil {
		return nil, err
	}

	core := replica.NewCore(s.config.Database, s.engineFactory())
	group := &serverGroup{id: config.GroupID, stream: stream}

	switch config.Role {
	case common.GroupRoleLeader:
		group.leader = replica.NewLeaderState(core, stream, s.trxManager, s.tracker, s.config.SnapshotBatchSize)
		group.adapter = NewLeaderServerAdapter(group.leader, s.tracker, s.trxManager)

	case common.GroupRoleFollower:
		peer := document.PeerState{ServerID: s.config.ServerID, RebootID: s.config.RebootID}
		clientConfig := common.ClientConfig{
			TimeoutSecond: int(s.config.TimeoutSecond),
			Transport: common.ClientTransportConfig{
				Endpoints:              []string{config.Leader},
				RetryCount:             leaderRetryCount,
				ConnectionsPerEndpoint: 1,
				TCPConf:                s.config.Transport.TCPConf,
				SocketConf:             s.config.Transport.SocketConf,
			},
		}
		remote, err := client.NewRPCLeader(config.GroupID, peer, clientConfig, s.clientTransport(), s.serializer)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to the leader of group %d: %w", config.GroupID, err)
		}
		group.remote = remote
		group.follower = replica.NewFollowerState(core, stream, remote)
		group.adapter = NewFollowerServerAdapter(config.GroupID, core.Storage())

	default:
		return nil, fmt.Errorf("invalid role %q of group %d", config.Role, config.GroupID)
	}
	return group, nil
}

// createStream creates the log of a group
func (s *RPCServer) createStream(groupID uint64) (document.IStream, error) {
	if !s.config.UsesRaft() {
		return lstream.NewLocalStream(), nil
	}

	err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false,
		dstream.CreateStateMachineFactory(s.registry), s.config.ToDragonboatConfig(groupID))
	if err != nil {
		return nil, fmt.Errorf("failed to start raft shard %d: %w", groupID, err)
	}
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	return dstream.NewDistributedStream(s.nodeHost, groupID, timeout, s.registry), nil
}

// shutdown stops the transport, resigns all groups and closes the node host
func (s *RPCServer) shutdown() {
	err := s.transport.Close()

	s.groups.Range(func(id uint64, group *serverGroup) bool {
		if resignErr := group.resign(); resignErr != nil {
			err = multierr.Append(err, fmt.Errorf("group %d: %w", id, resignErr))
		}
		return true
	})

	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	if err != nil {
		Logger.Warningf("shutdown completed with errors: %v", err)
	}
}

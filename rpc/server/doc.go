// Package server implements the RPC server of dDoc.
//
// One server hosts any number of replicated groups. For every group it creates a
// document engine, the log (a local stream or a raft shard) and either a leader or a
// follower state:
//
//   - Leader groups replay their log on start and answer the snapshot and shard
//     topology requests of followers and administrators (NewLeaderServerAdapter).
//     Clients open transactions on the leader and replicate document operations
//     through them. Open transactions are registered with the transaction manager
//     of the server, the leader aborts them on resign or when their shard is dropped.
//
//   - Follower groups acquire a snapshot from their leader via RPC and apply the log
//     in the background. They only answer shard map requests (NewFollowerServerAdapter).
//
// Usage Example:
//
//	config := common.ServerConfig{
//		Groups:   []common.ServerGroup{{GroupID: 100, Role: common.GroupRoleLeader}},
//		Stream:   common.StreamTypeLocal,
//		Database: "db",
//		ServerID: "server-1",
//		Transport: common.ServerTransportConfig{
//			Endpoint: ":8080",
//		},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), tcp.NewTCPClientTransport,
//		serializer.NewBinarySerializer())
//	if err := s.Serve(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Serve blocks until the context is cancelled or a group fails. On return all
// groups are resigned.
package server

// Package client implements the RPC clients of a dDoc server.
//
// Key Components:
//
//   - NewRPCLeader: the follower's view of a remote leader. It implements
//     document.ILeaderInterface, so a replica.FollowerState can acquire
//     snapshots over any transport.
//
//   - NewRPCAdmin: snapshot status and shard topology requests, used by the
//     command line tools.
//
//   - NewRPCDocuments: transactions and document operations replicated by the
//     leader of a group.
//
// Errors reported by the server keep their document.RetCode, so callers can
// use errors.Is with the sentinel errors of the document package. Transport
// failures are reported with RetCLeaderUnavailable.
//
// Usage Example:
//
//	config := common.ClientConfig{
//		TimeoutSecond: 5,
//		Transport: common.ClientTransportConfig{
//			Endpoints:  []string{"localhost:8080"},
//			RetryCount: 3,
//		},
//	}
//
//	leader, err := client.NewRPCLeader(100, peer, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		return err
//	}
//	defer leader.Close()
//
//	follower := replica.NewFollowerState(core, stream, leader)
//	stats, err := follower.AcquireSnapshot(ctx)
//
// Thread Safety:
//
//	All clients are thread-safe and can be used concurrently.
package client

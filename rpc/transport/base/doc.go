// Package base provides the protocol independent part of the socket transports
// (tcp and unix). Protocol specific behaviour is injected with the
// IClientConnector and IServerConnector interfaces.
//
// Frames:
//
//	Every request and response is a frame of a fixed header (group id,
//	request id, payload length) followed by the payload. The server answers
//	with the request id of the request, so the client can correlate responses
//	of concurrent requests on the same connection.
//
// Client:
//
//   - Multiple connections per endpoint, selected round robin.
//   - Requests are retried with exponential backoff on transport errors.
//   - A broken connection fails all requests in flight and reconnects.
//   - Send honours the deadline of its context and the configured timeout.
//
// Server:
//
//   - One goroutine per connection reads frames; the requests are processed by
//     a bounded number of workers per connection.
//   - Read buffers are reused with a sync.Pool.
//   - Request counts and durations are exported with VictoriaMetrics/metrics.
package base

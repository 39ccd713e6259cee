// Package http implements the RPC transport over HTTP.
//
// Requests are posted to /{groupId} of one of the configured endpoints (round robin),
// the body carries the serialized request and the response body the serialized response.
// Failed requests are retried on the next endpoint.
//
// The server additionally exports all metrics of the process in the Prometheus text
// format on GET /metrics. With the debug log level every request is logged.
package http

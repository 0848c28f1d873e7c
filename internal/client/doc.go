// Package client is the Go client for the gateway's HTTP API.
//
// Beyond plain request/response calls, *Client implements bus.Transport
// (over the SSE event stream) and bus.StateFetcher (over the messages and
// ownership endpoints), so a remote process can run a
// bus.SubscriptionManager against a gateway exactly as in-process code runs
// one against the store and broadcaster, with the same dedupe and
// reconciliation behavior.
package client

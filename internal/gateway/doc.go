// Package gateway exposes the hand-off coordinator over HTTP.
//
// Two audiences share one mux. The customer widget ensures a
// conversation, posts messages, lists history, and follows a
// server-sent event stream. The agent dashboard reads and flips
// ownership, toggles knowledge-base use, and works through its
// notification queue.
//
// Store errors map onto the HTTP taxonomy: unknown entities are 404,
// ownership and activity conflicts are 409, malformed input is 422,
// and completion-service failures that do surface are 502.
package gateway

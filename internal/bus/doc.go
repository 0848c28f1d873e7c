// Package bus delivers conversation events to connected viewers.
//
// Two layers:
//
//   - Broadcaster: in-memory fan-out of message-appended and
//     ownership-changed events, keyed by conversation ID. Writers publish
//     after persisting; subscribers get independent buffered channels.
//   - SubscriptionManager: the consumer-facing layer. It multiplexes
//     handler callbacks over the transport, de-duplicates by entity ID
//     (delivery is at-least-once), re-subscribes automatically when the
//     transport drops, and runs a periodic poll reconciliation pass against
//     the store as the documented fallback delivery path. When the transport
//     is down the subscription degrades to poll-only and reports
//     StatusDegraded; it never fails the subscriber.
//
// The manager is constructed by the application and injected where needed;
// there is deliberately no package-level singleton.
package bus

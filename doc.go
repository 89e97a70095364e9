// Package ctamission provides a realtime data channel client: a single
// abstraction that delivers continuously-updated facts (price ticks, ranking
// deltas, game-round state) to consumers over a persistent push connection,
// with transparent failover to periodic HTTP polling.
//
// # Architecture
//
// One Client owns one physical connection and multiplexes any number of
// channel subscriptions over it:
//
//	┌─────────────────────────────────────┐
//	│         realtime.Client             │  Consumer-facing API
//	│ (connect, subscribe, sendMessage)   │  Options, observers
//	└──────┬──────────────┬───────────────┘
//	       │              │
//	┌──────▼──────┐ ┌─────▼────────┐
//	│   session   │ │   polling    │  Push transport with bounded
//	│  (WebSocket)│ │ (HTTP pull)  │  reconnects; pull fallback
//	└──────┬──────┘ └─────┬────────┘
//	       │              │
//	┌──────▼──────────────▼───────────────┐
//	│           dispatch                  │  Single delivery funnel:
//	│  (filter, last-value, history)      │  both transports feed it
//	└─────────────────────────────────────┘
//
// The session package drives the connection lifecycle state machine
// (uninstantiated, connecting, open, closing, closed), heartbeat keep-alive,
// and a bounded fixed-interval reconnect policy. When the reconnect budget
// is spent and the polling fallback is enabled, the polling package fetches
// every subscribed channel's endpoint on a fixed interval and feeds the
// results through the same dispatcher, typed "polling."+channel. The two
// recovery strategies are mutually exclusive: polling stops the moment the
// push connection is open again.
//
// The subscription package reference-counts channel registrations, so
// several consumers can share one wire subscription; registrations are
// consumer-scoped in memory and retransmitted automatically on every
// reconnect.
//
// # Usage
//
//	client, err := realtime.New(
//		realtime.WithURL("wss://api.example.com/realtime"),
//		realtime.WithReconnect(5, 3*time.Second),
//		realtime.WithPollingFallback(10*time.Second, endpoints),
//	)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	unsubscribe, err := client.Subscribe("price.btc", nil)
//
// Errors are classified (connection, protocol, timeout, polling,
// subscription) by the errors package; protocol and polling errors are
// recovered locally and never tear the session down.
package ctamission

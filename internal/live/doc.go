// Package live bridges the report server's push stream into a metrics store.
//
// A Channel has two independent state axes. The connection status follows
// the transport (Disconnected, Connected). Freshness starts Fresh and turns
// Stale, permanently, on a reload control frame or on a batch tagged with a
// report version other than the session's. A stale channel stops processing
// and Run returns ErrReloadRequired; callers start a new session from a
// freshly fetched snapshot.
//
// Frames that fail to decode or to apply are dropped, logged and counted.
// They never produce a notification and never stop the channel.
package live

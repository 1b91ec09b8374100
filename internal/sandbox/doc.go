// Package sandbox is a local stand-in for the remote side of the presence
// layer: the three session contracts and the message stream.
//
// Sessions are kept in memory. Start is an idempotent upsert keyed by
// session id; a session that has not been heard from for the TTL is
// forgotten, after which heartbeats get the SESSION_NOT_FOUND error and
// clients restart it. The stream endpoint accepts any non-empty token,
// greets each connection, answers ping with pong and lets tests push
// envelopes or drop every connection with a chosen close code.
//
// It backs the integration tests and the presence-sandbox command. It is
// not a production session store.
package sandbox

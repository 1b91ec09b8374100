// Package presence keeps a user's session marked alive on the server for
// as long as at least one tab of the dashboard is open.
//
// Every tab constructs one Manager. The session id lives in a durable
// store shared by all tabs of a profile; the tab id lives in a store
// private to the tab. After Mount the manager starts the session and
// sends a heartbeat every interval while the tab is visible:
//
//	IDLE -> STARTING -> ACTIVE <-> SUSPENDED -> ENDED
//
// A heartbeat answered with "session not found" restarts the session in
// place. Hidden tabs keep their ticker running but skip sends, and send
// one heartbeat immediately when they become visible again.
//
// Logout in one tab ends the session, clears both stores and broadcasts
// a logout message so sibling tabs stop heartbeating. Closing a tab sends
// the end call through a best-effort teardown sender, which may or may
// not get through.
//
// Tabs share nothing but the durable store, so two tabs opening at the
// same moment may both create a session id. The store keeps the last
// write; each tab re-reads after writing and adopts whatever survived on
// its next heartbeat. Start is an idempotent upsert on the server, so the
// losing id simply stops being heartbeated.
package presence

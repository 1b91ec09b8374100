// Package stream keeps one live websocket message stream open.
//
// A Manager dials the stream endpoint with the current access token, parses
// every inbound frame as an Envelope and hands it to the latest OnMessage
// handler. Abnormal closures are retried after a fixed delay, a bounded
// number of times:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED
//	                    ^                          |
//	                    +------ retry budget ------+--> GAVE_UP
//
// A normal closure (code 1000) is never retried. Disconnect spends the
// remaining budget so nothing reconnects; Close tears the manager down for
// good and silences every event that arrives afterwards.
//
// Each dial gets a generation number. Events from a connection whose
// generation is no longer current are dropped, which is how a stale
// connection's late close never drives the state machine.
package stream

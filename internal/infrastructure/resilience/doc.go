/*
Package resilience provides the circuit breaker that guards session API
calls.

Heartbeats already retry on the next tick, so the breaker's job is to stop a
tab from hammering a collaborator that is clearly down: after enough
consecutive failures calls fail fast with ErrCircuitOpen until the open
timeout elapses, then a limited number of trial calls decide whether to
close again.

Execute wraps a call; Allow is the two-step form for callers that learn
the outcome elsewhere. Outcomes reported after the breaker changed state
are ignored.

Settings.IsSuccessful lets callers count well-formed remote answers (such as
"session not found") as successes, so only transport-level trouble trips the
breaker.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience

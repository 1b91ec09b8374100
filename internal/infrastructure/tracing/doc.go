/*
Package tracing correlates the calls one tab makes with what the server saw.

# Overview

A trace id travels in the X-Trace-ID header. The presence manager starts a
fresh trace for every heartbeat interval, so a heartbeat that comes back
SESSION_NOT_FOUND and the start call that recovers from it share one id.
On the client side Tracer.RoundTripper opens a span around every outbound
request. The sandbox server reads the header, echoes it on the response and
logs one span per request.

Spans are handed to a buffered collector and written through zap. A full
buffer drops the span rather than blocking the request path.

# Usage

	tracer := tracing.New("presence-sandbox", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	client := &http.Client{Transport: tracer.RoundTripper(nil)}
	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
*/
package tracing

/*
Package monitoring provides Prometheus metrics for the presence client.

# Overview

Metrics cover the heartbeat engine (ticks sent, skipped while hidden,
failed), session lifecycle calls (start, end by reason and transport,
automatic recoveries), cross-tab broadcasts, the stream connection state
machine (current state, reconnect attempts, exhausted budgets, inbound
frames) and, for the sandbox server, HTTP requests and open streams.

All recording methods accept a nil receiver so components can run without
metrics.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics, "/metrics"))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	done := metrics.StartCall("heartbeat")
	err := call()
	done(status(err))
*/
package monitoring

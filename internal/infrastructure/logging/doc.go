// Package logging builds the zap loggers used across the presence layer.
//
// Production loggers emit JSON, development loggers emit console lines.
// Components name their logger ("presence", "stream", "sandbox") and tag
// lines with the SessionID, TabID and Attempt field helpers so log queries
// can follow one tab across both managers.
package logging

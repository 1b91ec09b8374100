package tracing

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Span is one timed operation within a trace.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Service  string
	Start    time.Time
	Duration time.Duration
	Tags     map[string]string
	Status   int
	Err      error
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	if s.Tags == nil {
		s.Tags = make(map[string]string)
	}
	s.Tags[key] = value
}

// End records the outcome and the elapsed time. status is the HTTP status
// when there is one, otherwise 0.
func (s *Span) End(status int, err error) {
	s.Duration = time.Since(s.Start)
	s.Status = status
	s.Err = err
}

// MarshalLogObject flattens the span into log fields.
func (s *Span) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("trace_id", string(s.TraceID))
	enc.AddString("span_id", string(s.SpanID))
	if s.ParentID != "" {
		enc.AddString("parent_id", string(s.ParentID))
	}
	enc.AddString("operation", s.Name)
	enc.AddString("service", s.Service)
	enc.AddDuration("duration", s.Duration)
	if s.Status != 0 {
		enc.AddInt("status", s.Status)
	}
	for k, v := range s.Tags {
		enc.AddString(k, v)
	}
	if s.Err != nil {
		enc.AddString("error", s.Err.Error())
	}
	return nil
}

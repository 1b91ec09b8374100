package tracing

import (
	"net/http"
)

type roundTripper struct {
	tracer *Tracer
	next   http.RoundTripper
}

// RoundTripper wraps next so every outbound request runs in a client span
// whose trace context travels in the request headers.
func (t *Tracer) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{tracer: t, next: next}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	span, ctx := rt.tracer.StartSpan(req.Context(), req.Method+" "+req.URL.Path)
	span.SetTag("span.kind", "client")

	out := req.Clone(ctx)
	Inject(ctx, out.Header)

	resp, err := rt.next.RoundTrip(out)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	span.End(status, err)
	rt.tracer.Submit(span)
	return resp, err
}

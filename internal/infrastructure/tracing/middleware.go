package tracing

import (
	"github.com/gin-gonic/gin"
)

// HTTPMiddleware opens a server span per request, continuing the caller's
// trace when the request carries one and echoing the ids in the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}
		span, ctx := tracer.StartSpan(Extract(c.Request.Context(), c.Request.Header), name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("span.kind", "server")
		if rid := c.GetHeader("X-Request-ID"); rid != "" {
			span.SetTag("request_id", rid)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		var err error
		if last := c.Errors.Last(); last != nil {
			err = last
		}
		span.End(c.Writer.Status(), err)
		tracer.Submit(span)
	}
}

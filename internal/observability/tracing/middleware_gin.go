package tracing

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/payrouter/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const annotationsKey = "trace_annotations"

// Annotate attaches domain attributes to the request span. Handlers call it
// once they know the result (routing outcome, webhook state and so on); the
// request logger reads the same attributes.
func Annotate(c *gin.Context, attrs ...attribute.KeyValue) {
	if c == nil || len(attrs) == 0 {
		return
	}
	current := Annotations(c)
	c.Set(annotationsKey, append(current, SafeAttributes(attrs...)...))
}

// Annotations returns what handlers recorded with Annotate.
func Annotations(c *gin.Context) []attribute.KeyValue {
	value, ok := c.Get(annotationsKey)
	if !ok {
		return nil
	}
	attrs, _ := value.([]attribute.KeyValue)
	return attrs
}

// GinMiddleware opens a server span per request. Routes listed in untraced
// (matched against the route template) pass through without a span.
func GinMiddleware(untraced ...string) gin.HandlerFunc {
	tracer := otel.GetTracerProvider().Tracer("payrouter/http")
	return func(c *gin.Context) {
		if slices.Contains(untraced, c.FullPath()) {
			c.Next()
			return
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(c.Request.Method, c.FullPath()), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", routeOrUnknown(c.FullPath())),
			attribute.Int("http.status_code", status),
		)
		span.SetAttributes(Annotations(c)...)

		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			span.RecordError(SafeError(lastErr.Err))
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func spanName(method, route string) string {
	return "HTTP " + strings.ToUpper(method) + " " + routeOrUnknown(route)
}

func routeOrUnknown(route string) string {
	if route == "" {
		return "unknown"
	}
	return route
}

func withRequestBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

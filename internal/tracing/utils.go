package tracing

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"

	"github.com/armysheng/ai-mail/internal/logger"
)

const (
	SpanTagAccountId = "account-id"
	SpanTagFolder    = "folder"
	SpanTagProvider  = "provider"
	SpanTagComponent = "component"
)

const (
	SpanTagComponentPostgresRepository = "postgresRepository"
	SpanTagComponentRest               = "rest"
	SpanTagComponentCronJob            = "cronJob"
	SpanTagComponentService            = "service"
	SpanTagComponentSyncAdapter        = "syncAdapter"
)

func TracingEnhancer(ctx context.Context, endpoint string) func(c *gin.Context) {
	return func(c *gin.Context) {
		ctxWithSpan, span := StartHttpServerTracerSpanWithHeader(ctx, endpoint, c.Request.Header)
		defer span.Finish()
		TagComponentRest(span)
		c.Request = c.Request.WithContext(ctxWithSpan)
		c.Next()
	}
}

func StartHttpServerTracerSpanWithHeader(ctx context.Context, operationName string, headers http.Header) (context.Context, opentracing.Span) {
	spanCtx, err := opentracing.GlobalTracer().Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
	if err != nil {
		serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
		opentracing.GlobalTracer().Inject(serverSpan.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(headers))
		return opentracing.ContextWithSpan(ctx, serverSpan), serverSpan
	}

	serverSpan := opentracing.GlobalTracer().StartSpan(operationName, ext.RPCServerOption(spanCtx))
	return opentracing.ContextWithSpan(ctx, serverSpan), serverSpan
}

func StartTracerSpan(ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	serverSpan := opentracing.GlobalTracer().StartSpan(operationName)
	return serverSpan, opentracing.ContextWithSpan(ctx, serverSpan)
}

func TraceErr(span opentracing.Span, err error, fields ...log.Field) {
	if span == nil || err == nil {
		return
	}
	ext.LogError(span, err, fields...)
}

func TagComponentRest(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentRest)
}

func TagComponentPostgresRepository(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentPostgresRepository)
}

func TagComponentCronJob(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentCronJob)
}

func TagComponentService(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentService)
}

func TagComponentSyncAdapter(span opentracing.Span) {
	span.SetTag(SpanTagComponent, SpanTagComponentSyncAdapter)
}

func TagAccount(span opentracing.Span, accountID string) {
	if accountID != "" {
		span.SetTag(SpanTagAccountId, accountID)
	}
}

func TagFolder(span opentracing.Span, folder string) {
	if folder != "" {
		span.SetTag(SpanTagFolder, folder)
	}
}

func TagProvider(span opentracing.Span, provider fmt.Stringer) {
	if provider != nil {
		span.SetTag(SpanTagProvider, provider.String())
	}
}

// RecoverAndLog recovers a panicking goroutine, records it on a fresh
// span and keeps the process alive.
func RecoverAndLog(log logger.Logger) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan("panic")
		defer span.Finish()
		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)
		log.Errorf("Recovered from panic: %v\n%s", r, debug.Stack())
	}
}

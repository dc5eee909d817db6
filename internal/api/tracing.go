package api

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// defaultJaegerEndpoint Jaeger collector 默认地址
const defaultJaegerEndpoint = "http://localhost:14268/api/traces"

// untracedPaths 运维端点不产生 span
var untracedPaths = map[string]struct{}{
	"/metrics": {},
	"/ready":   {},
}

// InitTracing 安装全局 TracerProvider，返回的函数用于刷新并关闭导出器
func InitTracing(ctx context.Context, serviceName string, jaegerEndpoint string) (func(context.Context) error, error) {
	if jaegerEndpoint == "" {
		jaegerEndpoint = defaultJaegerEndpoint
	}
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	provider := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.AlwaysSample())),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return provider.Shutdown, nil
}

// TracingMiddleware 为业务请求创建 span
func TracingMiddleware() gin.HandlerFunc {
	traced := otelgin.Middleware(ServiceName)
	return func(c *gin.Context) {
		if _, skip := untracedPaths[c.Request.URL.Path]; skip {
			c.Next()
			return
		}
		traced(c)
	}
}

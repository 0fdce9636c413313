// Package tracing configures the global OpenTelemetry tracer provider.
package tracing

import (
	"context"

	"soniq/config"
	"soniq/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Init 安装全局tracer provider。未启用时保持otel默认的no-op provider，
// 业务代码里的span调用零开销。返回的函数在进程退出前flush缓冲的span。
func Init(cfg *config.Config) (func(context.Context) error, error) {
	if !cfg.TraceEnabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName("soniq")))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("链路追踪已启用")
	return tp.Shutdown, nil
}

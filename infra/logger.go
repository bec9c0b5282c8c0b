package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/tnqbao/gau-music-dispatch/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/trace"
)

// LoggerClient writes structured logs to stdout and, when an OTLP endpoint
// is configured, to the OpenTelemetry log pipeline as well.
type LoggerClient struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func InitLoggerClient(cfg *config.EnvConfig) *LoggerClient {
	level := slog.LevelInfo
	if cfg.Environment.Mode == "development" {
		level = slog.LevelDebug
	}
	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	var provider *sdklog.LoggerProvider
	if cfg.Grafana.OTLPEndpoint != "" {
		exporter, err := otlploghttp.New(context.Background(), otlploghttp.WithEndpoint(cfg.Grafana.OTLPEndpoint))
		if err != nil {
			log.Printf("Warning: Failed to create OTLP log exporter: %v (logs stay on stdout)", err)
		} else {
			provider = sdklog.NewLoggerProvider(
				sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
				sdklog.WithResource(newResource(cfg)),
			)
			global.SetLoggerProvider(provider)
			handlers = append(handlers, otelslog.NewHandler(cfg.Grafana.ServiceName, otelslog.WithLoggerProvider(provider)))
		}
	}

	logger := slog.New(fanoutHandler(handlers)).With(
		slog.String("service", cfg.Grafana.ServiceName),
		slog.String("env", cfg.Environment.Mode),
	)
	return &LoggerClient{logger: logger, provider: provider}
}

// NewWriterLogger logs plain text to w. Used by tools and tests.
func NewWriterLogger(w io.Writer, level slog.Level) *LoggerClient {
	return &LoggerClient{logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))}
}

func (l *LoggerClient) InfoWithContextf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelInfo, nil, format, args...)
}

func (l *LoggerClient) WarningWithContextf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelWarn, nil, format, args...)
}

func (l *LoggerClient) ErrorWithContextf(ctx context.Context, err error, format string, args ...any) {
	l.log(ctx, slog.LevelError, err, format, args...)
}

func (l *LoggerClient) DebugWithContextf(ctx context.Context, format string, args ...any) {
	l.log(ctx, slog.LevelDebug, nil, format, args...)
}

func (l *LoggerClient) log(ctx context.Context, level slog.Level, err error, format string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 3)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()), slog.String("span_id", sc.SpanID().String()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(ctx, level, fmt.Sprintf(format, args...), attrs...)
}

func (l *LoggerClient) Shutdown(ctx context.Context) error {
	if l.provider == nil {
		return nil
	}
	return l.provider.Shutdown(ctx)
}

type multiHandler []slog.Handler

func fanoutHandler(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return multiHandler(handlers)
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}

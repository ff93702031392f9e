package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Exporter names.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// DefaultServiceName is the service.name resource attribute.
const DefaultServiceName = "polyd"

// Config selects how spans are sampled and exported.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "stdout" or "none".
	Exporter string `yaml:"exporter,omitempty"`
	// SampleRatio is the fraction of root traces kept, in [0, 1]. Zero
	// keeps everything.
	SampleRatio float64 `yaml:"sampleRatio,omitempty"`
	ServiceName string  `yaml:"serviceName,omitempty"`
}

// Validate checks the exporter name and ratio.
func (c Config) Validate() error {
	switch c.Exporter {
	case "", ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("unknown exporter %q", c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sampleRatio %v out of range [0, 1]", c.SampleRatio)
	}
	return nil
}

// NewProvider builds a tracer provider. Stdout spans are written to w, or
// os.Stdout when w is nil.
func NewProvider(cfg Config, w io.Writer) (*sdktrace.TracerProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}

	ratio := cfg.SampleRatio
	if ratio == 0 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}

	switch cfg.Exporter {
	case "", ExporterStdout:
		if w == nil {
			w = os.Stdout
		}
		opts = append(opts, sdktrace.WithBatcher(NewStdoutExporter(w)))
	case ExporterNone:
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// Setup installs a provider for cfg and the TraceContext propagator as the
// otel globals. The returned function flushes and stops the provider. A
// disabled config leaves the no-op globals in place.
func Setup(cfg Config, w io.Writer) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	tp, err := NewProvider(cfg, w)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(Propagator)
	return tp.Shutdown, nil
}

// Tracer returns the polyd tracer of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/getmockd/polyd")
}

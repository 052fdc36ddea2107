package tracing

import (
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/opentracer"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

type Config struct {
	Enabled bool   `default:"false"`
	Host    string `default:"localhost"`
	Port    string `default:"8126"`
	Tags    map[string]string
}

// Configure installs the global tracer used by the Kafka sender and
// receiver. A no-op tracer is installed when tracing is disabled. The
// returned func flushes and stops the tracer.
func Configure(tc *Config, svcName string) func() {
	if !tc.Enabled {
		opentracing.SetGlobalTracer(opentracing.NoopTracer{})
		return func() {}
	}

	tracerOps := []tracer.StartOption{
		tracer.WithServiceName(svcName),
		tracer.WithAgentAddr(fmt.Sprintf("%s:%s", tc.Host, tc.Port)),
	}
	for k, v := range tc.Tags {
		tracerOps = append(tracerOps, tracer.WithGlobalTag(k, v))
	}

	opentracing.SetGlobalTracer(opentracer.New(tracerOps...))
	return tracer.Stop
}

package metriks

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/datadog"
	"github.com/armon/go-metrics/prometheus"
	"github.com/pkg/errors"
)

const timerGranularity = time.Millisecond

// Init will initialize the internal metrics system from the config. Nothing
// happens when metrics are disabled and the default blackhole sink stays.
func Init(serviceName string, conf Config) error {
	if !conf.Enabled {
		return nil
	}

	if conf.URL != "" {
		_, err := InitWithURL(serviceName, conf.URL)
		return err
	}

	sink, err := createDatadogSink(conf.StatsdAddr(), "", conf.Tags, nil)
	if err != nil {
		return err
	}
	return InitWithSink(serviceName, sink)
}

// InitWithURL will initialize using a URL to identify the sink type
//
// Examples:
//
//	InitWithURL("consumer", "datadog://187.32.21.12:8125/?hostname=foo.com&tag=env:production")
//
//	InitWithURL("consumer", "prometheus://")
//
//	InitWithURL("consumer", "discard://nothing")
//
//	InitWithURL("consumer", "inmem://discarded/?interval=10s&duration=30s")
func InitWithURL(serviceName string, endpoint string) (metrics.MetricSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid endpoint format")
	}

	hostname := u.Query().Get("hostname")
	if hostname == "" {
		h, _ := os.Hostname()
		hostname = h
	}

	var sink metrics.MetricSink
	switch u.Scheme {
	case "datadog":
		sink, err = createDatadogSink(u.Host, hostname, map[string]string{}, u.Query()["tag"])
	case "prometheus":
		// registers with the default prometheus registry
		sink, err = prometheus.NewPrometheusSink()
	case "discard", "":
		sink = &metrics.BlackholeSink{}
	default:
		sink, err = metrics.NewMetricSinkFromURL(endpoint)
	}

	if err != nil {
		return nil, errors.Wrap(err, "error creating sink")
	}

	err = InitWithSink(serviceName, sink)
	return sink, err
}

// InitWithSink initializes the internal metrics system with custom sink
func InitWithSink(serviceName string, sink metrics.MetricSink) error {
	c := metrics.DefaultConfig(serviceName)
	c.EnableHostname = false
	c.EnableHostnameLabel = false
	c.EnableServiceLabel = false
	c.EnableRuntimeMetrics = false
	c.TimerGranularity = timerGranularity

	if _, err := metrics.NewGlobal(c, sink); err != nil {
		return err
	}
	return nil
}

func createDatadogSink(url string, name string, tags map[string]string, extraTags []string) (metrics.MetricSink, error) {
	sink, err := datadog.NewDogStatsdSink(url, name)
	if err != nil {
		return nil, err
	}

	var ddTags []string
	for k, v := range tags {
		ddTags = append(ddTags, fmt.Sprintf("%s:%s", k, v))
	}
	ddTags = append(ddTags, extraTags...)

	sink.SetTags(ddTags)
	return sink, nil
}

// L returns a single label, kept short for conciseness
func L(name string, value string) metrics.Label {
	return metrics.Label{
		Name:  name,
		Value: value,
	}
}

// Inc increments a simple counter
//
// Example:
//
//	metriks.Inc("kafka.sent", 1, metriks.L("topic", "orders"))
func Inc(name string, val int64, labels ...metrics.Label) {
	if len(labels) > 0 {
		metrics.IncrCounterWithLabels([]string{name}, float32(val), labels)
	} else {
		metrics.IncrCounter([]string{name}, float32(val))
	}
}

// MeasureSince records the time from start until the invocation of the function
// It is usually used with `defer` to record time of a function.
func MeasureSince(name string, start time.Time, labels ...metrics.Label) {
	if len(labels) > 0 {
		metrics.MeasureSinceWithLabels([]string{name}, start, labels)
	} else {
		metrics.MeasureSince([]string{name}, start)
	}
}

// Gauge is used to report a single float32 value, like the number of
// messages waiting in a producer queue.
func Gauge(name string, val float32, labels ...metrics.Label) {
	if len(labels) > 0 {
		metrics.SetGaugeWithLabels([]string{name}, val, labels)
	} else {
		metrics.SetGauge([]string{name}, val)
	}
}

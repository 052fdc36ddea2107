package kafka

import (
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/netlify/messenger-kafka/messaging"
	uuid "github.com/satori/go.uuid"
	"github.com/spf13/cast"
)

// Defaults applied when the DSN and the options leave a value out.
const (
	Scheme          = "kafka"
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 9092
	DefaultTopic    = "messages"
	DefaultLogLevel = "7" // syslog debug, librdkafka still needs `debug` contexts to emit anything

	hostPlaceholder = "default"
)

// Option namespaces and keys understood in DSN queries and option maps.
const (
	NamespaceConnection = "connection"
	NamespaceTopic      = "topic"

	OptWriteTimeout    = "write_timeout"
	OptWriteRetries    = "write_retries"
	OptReadTimeout     = "read_timeout"
	OptShutdownTimeout = "shutdown_timeout"
	OptCommitAsync     = "commit_async"
	OptLogLevel        = "log_level"

	connHost    = "host"
	connPort    = "port"
	connGroupID = "group.id"
	topicName   = "name"
)

// Topic is a destination the connection publishes to and subscribes on.
type Topic struct {
	Name string
}

// ConnectionConfig is the normalized form of a DSN plus its options.
// Build it with ParseDSN; it is not modified afterwards.
type ConnectionConfig struct {
	Host    string
	Port    int
	GroupID string
	Topics  []Topic

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	WriteRetries    int
	ShutdownTimeout time.Duration
	CommitAsync     bool
	LogLevel        string

	// BrokerSettings are forwarded verbatim to librdkafka.
	BrokerSettings map[string]string
	// TopicSettings are applied to the producer as default topic configuration.
	TopicSettings map[string]string
}

// BootstrapServers returns the host:port pair used as `bootstrap.servers`.
func (c ConnectionConfig) BootstrapServers() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TopicNames lists the configured topic names in order.
func (c ConnectionConfig) TopicNames() []string {
	names := make([]string, len(c.Topics))
	for i, t := range c.Topics {
		names[i] = t.Name
	}
	return names
}

// ParseDSN builds a ConnectionConfig from a DSN such as
//
//	kafka://broker:9092/orders,invoices?read_timeout=500&connection[security.protocol]=ssl
//
// Values are merged in order: defaults, DSN query, options. Options win.
// The `connection` and `topic` namespaces may be given either as bracketed
// query keys or as nested maps in options.
func ParseDSN(dsn string, options map[string]interface{}) (ConnectionConfig, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return ConnectionConfig{}, messaging.WrapConfigError(err, "the given Kafka DSN is invalid")
	}
	if u.Scheme != Scheme {
		return ConnectionConfig{}, messaging.ConfigErrorf("the given Kafka DSN must use the %s:// scheme", Scheme)
	}

	host := u.Hostname()
	if host == "" || host == hostPlaceholder {
		host = DefaultHost
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return ConnectionConfig{}, messaging.WrapConfigError(err, "invalid port in Kafka DSN")
		}
	}

	defaults := map[string]interface{}{
		NamespaceConnection: map[string]interface{}{
			connHost:    host,
			connPort:    port,
			connGroupID: uuid.NewV4().String(),
			OptLogLevel: DefaultLogLevel,
		},
		NamespaceTopic: map[string]interface{}{
			topicName: pathTopics(u.Path),
		},
		OptWriteTimeout:    0,
		OptWriteRetries:    0,
		OptReadTimeout:     0,
		OptShutdownTimeout: 0,
		OptCommitAsync:     true,
	}

	merged := mergeOptions(defaults, parseQuery(u.Query()), options)
	return normalizeOptions(merged)
}

func pathTopics(path string) []string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	topics := splitTopics(segments[0])
	if len(topics) == 0 {
		return []string{DefaultTopic}
	}
	return topics
}

func splitTopics(s string) []string {
	var topics []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// parseQuery turns `ns[key]=v` into nested maps. The last value of a
// repeated key wins.
func parseQuery(values url.Values) map[string]interface{} {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		vals := values[k]
		v := vals[len(vals)-1]

		open := strings.IndexByte(k, '[')
		if open <= 0 || !strings.HasSuffix(k, "]") {
			out[k] = v
			continue
		}

		ns, sub := k[:open], k[open+1:len(k)-1]
		m, ok := out[ns].(map[string]interface{})
		if !ok {
			m = make(map[string]interface{})
			out[ns] = m
		}
		m[sub] = v
	}
	return out
}

// mergeOptions merges the layers left to right. Nested maps are merged key
// by key, any other value replaces the previous one.
func mergeOptions(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			sub, ok := toMap(v)
			if !ok {
				out[k] = v
				continue
			}
			if prev, ok := out[k].(map[string]interface{}); ok {
				out[k] = mergeOptions(prev, sub)
			} else {
				out[k] = mergeOptions(sub)
			}
		}
	}
	return out
}

func toMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	case map[interface{}]interface{}:
		return cast.ToStringMap(m), true
	}
	return nil, false
}

func normalizeOptions(opts map[string]interface{}) (ConnectionConfig, error) {
	conf := ConnectionConfig{
		BrokerSettings: make(map[string]string),
		TopicSettings:  make(map[string]string),
	}

	conn, err := namespace(opts, NamespaceConnection)
	if err != nil {
		return conf, err
	}
	topic, err := namespace(opts, NamespaceTopic)
	if err != nil {
		return conf, err
	}

	if conf.Host, err = stringOption(conn, connHost); err != nil {
		return conf, err
	}
	if conf.Port, err = intOption(conn, connPort); err != nil {
		return conf, err
	}
	if conf.GroupID, err = stringOption(conn, connGroupID); err != nil {
		return conf, err
	}

	// log_level is a connection setting but is also accepted at the top level
	if _, ok := opts[OptLogLevel]; ok {
		conn[OptLogLevel] = opts[OptLogLevel]
	}
	if conf.LogLevel, err = stringOption(conn, OptLogLevel); err != nil {
		return conf, err
	}

	var ms int
	if ms, err = intOption(opts, OptReadTimeout); err != nil {
		return conf, err
	}
	conf.ReadTimeout = time.Duration(ms) * time.Millisecond
	if ms, err = intOption(opts, OptWriteTimeout); err != nil {
		return conf, err
	}
	conf.WriteTimeout = time.Duration(ms) * time.Millisecond
	if ms, err = intOption(opts, OptShutdownTimeout); err != nil {
		return conf, err
	}
	conf.ShutdownTimeout = time.Duration(ms) * time.Millisecond
	if conf.WriteRetries, err = intOption(opts, OptWriteRetries); err != nil {
		return conf, err
	}
	if conf.CommitAsync, err = boolOption(opts, OptCommitAsync); err != nil {
		return conf, err
	}

	names, err := topicNames(topic[topicName])
	if err != nil {
		return conf, err
	}
	for _, n := range names {
		conf.Topics = append(conf.Topics, Topic{Name: n})
	}

	for k, v := range conn {
		switch k {
		case connHost, connPort, connGroupID, OptLogLevel:
			continue
		}
		if conf.BrokerSettings[k], err = settingValue(NamespaceConnection, k, v); err != nil {
			return conf, err
		}
	}
	for k, v := range topic {
		if k == topicName {
			continue
		}
		if conf.TopicSettings[k], err = settingValue(NamespaceTopic, k, v); err != nil {
			return conf, err
		}
	}
	for k, v := range opts {
		switch k {
		case NamespaceConnection, NamespaceTopic, OptReadTimeout, OptWriteTimeout,
			OptWriteRetries, OptShutdownTimeout, OptCommitAsync, OptLogLevel:
			continue
		}
		if _, ok := conf.BrokerSettings[k]; ok {
			continue
		}
		if conf.BrokerSettings[k], err = settingValue("", k, v); err != nil {
			return conf, err
		}
	}

	return conf, conf.validate()
}

func (c ConnectionConfig) validate() error {
	if c.Host == "" {
		return messaging.ConfigErrorf("the Kafka host cannot be empty")
	}
	if c.Port <= 0 {
		return messaging.ConfigErrorf("the Kafka port must be positive, got %d", c.Port)
	}
	if len(c.Topics) == 0 {
		return messaging.ConfigErrorf("at least one Kafka topic is required")
	}
	return nil
}

func namespace(opts map[string]interface{}, ns string) (map[string]interface{}, error) {
	v, ok := opts[ns]
	if !ok || v == nil {
		return make(map[string]interface{}), nil
	}
	m, ok := toMap(v)
	if !ok {
		return nil, messaging.ConfigErrorf("option %s must be a map, got %T", ns, v)
	}
	return m, nil
}

func stringOption(opts map[string]interface{}, key string) (string, error) {
	s, err := cast.ToStringE(opts[key])
	if err != nil {
		return "", messaging.WrapConfigError(err, "option "+key+" must be a string")
	}
	return s, nil
}

func intOption(opts map[string]interface{}, key string) (int, error) {
	v := opts[key]
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, messaging.WrapConfigError(err, "option "+key+" must be an integer")
		}
		return n, nil
	}

	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, messaging.WrapConfigError(err, "option "+key+" must be an integer")
	}
	return n, nil
}

func boolOption(opts map[string]interface{}, key string) (bool, error) {
	v := opts[key]
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, messaging.WrapConfigError(err, "option "+key+" must be a boolean")
	}
	return b, nil
}

func topicNames(v interface{}) ([]string, error) {
	var names []string
	switch t := v.(type) {
	case string:
		names = splitTopics(t)
	default:
		list, err := cast.ToStringSliceE(t)
		if err != nil {
			return nil, messaging.WrapConfigError(err, "topic names must be a list or a comma separated string")
		}
		for _, n := range list {
			names = append(names, splitTopics(n)...)
		}
	}
	return names, nil
}

func settingValue(ns, key string, v interface{}) (string, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		if ns != "" {
			key = ns + "[" + key + "]"
		}
		return "", messaging.WrapConfigError(err, "broker setting "+key+" must be a scalar")
	}
	return s, nil
}

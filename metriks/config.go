package metriks

import "fmt"

// Config selects the statsd agent metrics are shipped to. URL takes
// precedence over Host and Port and accepts any scheme InitWithURL knows.
type Config struct {
	Enabled bool   `default:"false"`
	Host    string `default:"localhost"`
	Port    int    `default:"8125"`
	URL     string

	Tags map[string]string
}

func (conf Config) StatsdAddr() string {
	return fmt.Sprintf("%s:%d", conf.Host, conf.Port)
}

package nconf

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type LoggingConfig struct {
	Level            string `mapstructure:"log_level" json:"log_level"`
	File             string `mapstructure:"log_file" json:"log_file"`
	DisableColors    bool   `mapstructure:"disable_colors" split_words:"true" json:"disable_colors"`
	QuoteEmptyFields bool   `mapstructure:"quote_empty_fields" split_words:"true" json:"quote_empty_fields"`
	TSFormat         string `mapstructure:"ts_format" json:"ts_format"`
	JSON             bool   `mapstructure:"json" json:"json"`

	Fields map[string]interface{} `mapstructure:"fields" json:"fields"`
}

// ConfigureLogging sets up the standard logrus logger and returns an entry
// carrying the configured fields.
func ConfigureLogging(config *LoggingConfig) (*logrus.Entry, error) {
	if config == nil {
		config = new(LoggingConfig)
	}

	tsFormat := time.RFC3339Nano
	if config.TSFormat != "" {
		tsFormat = config.TSFormat
	}

	if config.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: tsFormat})
	} else {
		// always use the full timestamp
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			DisableTimestamp: false,
			TimestampFormat:  tsFormat,
			DisableColors:    config.DisableColors,
			QuoteEmptyFields: config.QuoteEmptyFields,
		})
	}

	// use a file if you want
	if config.File != "" {
		f, errOpen := os.OpenFile(config.File, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0664)
		if errOpen != nil {
			return nil, errOpen
		}
		logrus.SetOutput(f)
		logrus.Infof("Set output file to %s", config.File)
	}

	if config.Level != "" {
		level, err := logrus.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
		logrus.SetLevel(level)
		logrus.Debug("Set log level to: " + logrus.GetLevel().String())
	}

	f := logrus.Fields{}
	for k, v := range config.Fields {
		f[k] = v
	}

	return logrus.WithFields(f), nil
}

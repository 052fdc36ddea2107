// Package tls loads client certificates for broker connections.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// Config holds TLS material given either as files or as inline PEM values.
// Inline values win when both are set.
type Config struct {
	Enabled bool `mapstructure:"enabled" default:"false"`

	CAFiles  []string `mapstructure:"ca_files" envconfig:"ca_files"`
	KeyFile  string   `mapstructure:"key_file" split_words:"true"`
	CertFile string   `mapstructure:"cert_file" split_words:"true"`

	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
	CA   string `mapstructure:"ca"`

	Insecure bool `mapstructure:"insecure" default:"false"`
}

func (cfg Config) inline() bool {
	return cfg.Cert != "" && cfg.Key != ""
}

// TLSConfig builds a crypto/tls configuration, or nil when no client
// certificate is configured.
func (cfg Config) TLSConfig() (*tls.Config, error) {
	var tlsconf *tls.Config
	var err error
	if cfg.inline() {
		tlsconf, err = LoadFromValues(cfg.Cert, cfg.Key, cfg.CA)
	} else if cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsconf, err = LoadFromFiles(cfg.CertFile, cfg.KeyFile, cfg.CAFiles)
	}

	if err != nil {
		return nil, err
	}

	if tlsconf != nil {
		tlsconf.InsecureSkipVerify = cfg.Insecure
	}

	return tlsconf, nil
}

// BrokerSettings translates the material into librdkafka `ssl.*` properties.
// File paths are handed over as is and read by librdkafka; inline PEM values
// are checked before being passed along. It returns nil when TLS is disabled.
func (cfg Config) BrokerSettings() (map[string]string, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	settings := map[string]string{
		"security.protocol": "ssl",
	}

	if cfg.inline() {
		if _, err := tls.X509KeyPair([]byte(cfg.Cert), []byte(cfg.Key)); err != nil {
			return nil, fmt.Errorf("invalid client certificate: %w", err)
		}
		settings["ssl.certificate.pem"] = cfg.Cert
		settings["ssl.key.pem"] = cfg.Key
	} else if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("both cert_file and key_file are required")
		}
		settings["ssl.certificate.location"] = cfg.CertFile
		settings["ssl.key.location"] = cfg.KeyFile
	}

	if cfg.CA != "" {
		if !x509.NewCertPool().AppendCertsFromPEM([]byte(cfg.CA)) {
			return nil, fmt.Errorf("Failed to add CA cert")
		}
		settings["ssl.ca.pem"] = cfg.CA
	} else if len(cfg.CAFiles) > 0 {
		settings["ssl.ca.location"] = strings.Join(cfg.CAFiles, ",")
	}

	if cfg.Insecure {
		settings["enable.ssl.certificate.verification"] = "false"
	}

	return settings, nil
}

// LoadFromValues builds a client configuration from PEM encoded values. The
// system pool is used when ca is empty.
func LoadFromValues(certPEM, keyPEM, ca string) (*tls.Config, error) {
	var pool *x509.CertPool
	if ca == "" {
		p, err := x509.SystemCertPool()
		if err != nil {
			return nil, err
		}
		pool = p
	} else {
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(ca)) {
			return nil, fmt.Errorf("Failed to add CA cert")
		}
	}

	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadFromFiles is LoadFromValues reading the material from disk.
func LoadFromFiles(certFile, keyFile string, cafiles []string) (*tls.Config, error) {
	var pool *x509.CertPool
	if len(cafiles) == 0 {
		p, err := x509.SystemCertPool()
		if err != nil {
			return nil, err
		}
		pool = p
	} else {
		pool = x509.NewCertPool()

		for _, caFile := range cafiles {
			caData, err := os.ReadFile(caFile)
			if err != nil {
				return nil, err
			}

			if !pool.AppendCertsFromPEM(caData) {
				return nil, fmt.Errorf("Failed to add CA cert at %s", caFile)
			}
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

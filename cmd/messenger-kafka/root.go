package main

import (
	"github.com/netlify/messenger-kafka/graceful"
	"github.com/netlify/messenger-kafka/kafka"
	"github.com/netlify/messenger-kafka/messaging"
	"github.com/netlify/messenger-kafka/nconf"
	"github.com/netlify/messenger-kafka/tls"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const serviceName = "messenger_kafka"

// config is loaded from MESSENGER_KAFKA_* variables.
type config struct {
	Serializer string `default:"raw"`
	Auth       kafka.Auth
	TLS        tls.Config
}

func rootCmd() *cobra.Command {
	args := &nconf.RootArgs{Prefix: serviceName}
	cmd := &cobra.Command{
		Use:          "messenger-kafka",
		Short:        "Send and consume messages through the Kafka transport",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().AddFlag(args.ConfigFlag())
	cmd.PersistentFlags().AddFlag(args.PrefixFlag())
	nconf.WithOptionsFlag(cmd)

	cmd.AddCommand(sendCmd(args), consumeCmd(args))
	return cmd
}

// openTransport loads the configuration and builds a transport for dsn.
func openTransport(cmd *cobra.Command, args *nconf.RootArgs, dsn string) (messaging.Transport, logrus.FieldLogger, error) {
	conf := new(config)
	log, err := args.Setup(conf, serviceName, Version)
	if err != nil {
		return nil, nil, err
	}

	options, err := nconf.LoadOptions(cmd, serviceName,
		kafka.OptReadTimeout, kafka.OptWriteTimeout, kafka.OptWriteRetries,
		kafka.OptShutdownTimeout, kafka.OptCommitAsync, kafka.OptLogLevel)
	if err != nil {
		return nil, log, err
	}

	serializer, err := newSerializer(conf.Serializer)
	if err != nil {
		return nil, log, err
	}

	clients := kafka.NewConfluentFactory(log, kafka.WithAuth(conf.Auth), kafka.WithTLS(conf.TLS))
	registry := messaging.NewRegistry(kafka.NewTransportFactory(log, kafka.WithClientFactory(clients)))
	if !registry.Supports(dsn, options) {
		return nil, log, errors.Errorf("no transport supports the DSN %q", dsn)
	}

	tr, err := registry.CreateTransport(dsn, options, serializer)
	if err != nil {
		return nil, log, err
	}
	return tr, log, nil
}

// closeTransport closes tr, calls closed when it is not nil, and then runs
// the graceful shutdown, waiting for one already started by a signal.
func closeTransport(tr messaging.Transport, log logrus.FieldLogger, closed func()) error {
	var closeErr error
	if c, ok := tr.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			closeErr = errors.Wrap(err, "failed closing the transport")
		}
	}
	if closed != nil {
		closed()
	}
	if err := graceful.Shutdown(log); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}

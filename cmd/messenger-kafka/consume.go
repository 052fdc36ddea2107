package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/netlify/messenger-kafka/graceful"
	"github.com/netlify/messenger-kafka/messaging"
	"github.com/netlify/messenger-kafka/nconf"
	"github.com/netlify/messenger-kafka/pprof"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// emptyPollBackoff spaces out polls when the read timeout is zero.
const emptyPollBackoff = 100 * time.Millisecond

func consumeCmd(args *nconf.RootArgs) *cobra.Command {
	var limit int
	var reject bool
	var debugAddr string

	cmd := &cobra.Command{
		Use:   "consume <dsn>",
		Short: "Print received messages to stdout and acknowledge them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, dsn []string) error {
			tr, log, err := openTransport(cmd, args, dsn[0])
			if err != nil {
				return err
			}

			if debugAddr != "" {
				if _, err := pprof.Run(debugAddr, graceful.DefaultCloser(), log); err != nil {
					return errors.Wrap(err, "failed starting the debug server")
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			stopped := registerConsumer(graceful.DefaultCloser(), cancel)
			graceful.DetectShutdown(log)

			n, consumeErr := consume(ctx, tr, log, cmd.OutOrStdout(), limit, reject)
			log.WithField("received", n).Info("Done consuming")
			if err := closeTransport(tr, log, stopped); err != nil && consumeErr == nil {
				consumeErr = err
			}
			return consumeErr
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Stop after this many messages, 0 means no limit")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject messages instead of acknowledging them")
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "Serve pprof and Prometheus metrics on this address")
	return cmd
}

// registerConsumer adds a shutdown target that cancels the consume loop and
// waits until the returned func is called, once the transport has committed
// its offsets and been closed.
func registerConsumer(closer *graceful.Closer, cancel context.CancelFunc) func() {
	stopped := make(chan struct{})
	closer.Register("consumer", graceful.ShutdownFunc(func(ctx context.Context) error {
		cancel()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), 0)

	var once sync.Once
	return func() {
		once.Do(func() { close(stopped) })
	}
}

// consume prints messages until limit is reached or ctx is done. Messages
// that fail to decode are reported and skipped.
func consume(ctx context.Context, tr messaging.Receiver, log logrus.FieldLogger, out io.Writer, limit int, reject bool) (int, error) {
	received := 0
	for limit <= 0 || received < limit {
		envs, err := tr.Get(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return received, nil
			}
			var decodeErr *messaging.MessageDecodingFailedError
			if errors.As(err, &decodeErr) {
				log.WithError(err).Warn("Skipping message")
				continue
			}
			return received, err
		}

		if len(envs) == 0 {
			select {
			case <-ctx.Done():
				return received, nil
			case <-time.After(emptyPollBackoff):
			}
			continue
		}

		for _, env := range envs {
			received++
			if err := printEnvelope(out, env); err != nil {
				return received, err
			}

			if reject {
				err = tr.Reject(ctx, env)
			} else {
				err = tr.Ack(ctx, env)
			}
			if err != nil {
				return received, err
			}
		}
	}
	return received, nil
}

func printEnvelope(out io.Writer, env *messaging.Envelope) error {
	var err error
	switch msg := env.Message.(type) {
	case *rawMessage:
		_, err = fmt.Fprintf(out, "%s%s\n", formatHeaders(msg.Headers), msg.Body)
	case *jsonBody:
		_, err = fmt.Fprintln(out, msg.Body)
	default:
		_, err = fmt.Fprintf(out, "%+v\n", msg)
	}
	return err
}

func formatHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+h[k])
	}
	return "[" + strings.Join(parts, " ") + "] "
}

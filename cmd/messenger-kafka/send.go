package main

import (
	"bufio"
	"context"
	"io"

	"github.com/netlify/messenger-kafka/messaging"
	"github.com/netlify/messenger-kafka/nconf"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func sendCmd(args *nconf.RootArgs) *cobra.Command {
	var key string
	var headers map[string]string

	cmd := &cobra.Command{
		Use:   "send <dsn> [body...]",
		Short: "Send one message per body, or per line of stdin when no body is given",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, bodies []string) error {
			tr, log, err := openTransport(cmd, args, bodies[0])
			if err != nil {
				return err
			}

			sent, sendErr := send(cmd.Context(), tr, log, bodies[1:], cmd.InOrStdin(), key, headers)
			log.WithField("sent", sent).Info("Done sending")
			if err := closeTransport(tr, log, nil); err != nil && sendErr == nil {
				sendErr = err
			}
			return sendErr
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "The partition key of the messages")
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "Headers added to every message")
	return cmd
}

// send publishes bodies, or every line of in when bodies is empty, and
// returns how many messages were sent.
func send(ctx context.Context, tr messaging.Sender, log logrus.FieldLogger, bodies []string, in io.Reader, key string, headers map[string]string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	next := func() (string, bool) {
		if len(bodies) == 0 {
			return "", false
		}
		b := bodies[0]
		bodies = bodies[1:]
		return b, true
	}
	if len(bodies) == 0 {
		scanner := bufio.NewScanner(in)
		next = func() (string, bool) {
			if !scanner.Scan() {
				return "", false
			}
			return scanner.Text(), true
		}
	}

	sent := 0
	for body, ok := next(); ok; body, ok = next() {
		env := messaging.NewEnvelope(&rawMessage{Body: []byte(body), Headers: copyHeaders(headers)})
		if key != "" {
			env = env.With(messaging.PartitionKeyStamp{Key: key})
		}
		if _, err := tr.Send(ctx, env); err != nil {
			return sent, errors.Wrapf(err, "failed sending message %d", sent+1)
		}
		sent++
		log.WithField("size", len(body)).Debug("Message sent")
	}
	return sent, nil
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

package testutil

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// Opt is a function that will modify the logger used
type Opt func(l *logrus.Logger)

// TestLogger builds a logger writing through t.Log and capturing entries in
// the returned hook. The level comes from the LOG_LEVEL env var, then opts.
func TestLogger(t testing.TB, opts ...Opt) (*logrus.Entry, *test.Hook) {
	l := logrus.New()
	l.SetOutput(testLogWrapper{t})
	hook := test.NewLocal(l)
	if ll := os.Getenv("LOG_LEVEL"); ll != "" {
		level, err := logrus.ParseLevel(ll)
		if err != nil {
			t.Logf("Error parsing the log level env var (%s), defaulting to info", ll)
			level = logrus.InfoLevel
		}
		l.SetLevel(level)
	}

	for _, o := range opts {
		o(l)
	}

	return l.WithField("test", t.Name()), hook
}

type testLogWrapper struct {
	t testing.TB
}

func (w testLogWrapper) Write(p []byte) (n int, err error) {
	w.t.Log(string(p))
	return len(p), nil
}

// OptSetLevel will override the env var used to configure the logger
func OptSetLevel(lvl logrus.Level) Opt {
	return func(l *logrus.Logger) {
		l.SetLevel(lvl)
	}
}

// Messages returns the messages captured by hook, oldest first.
func Messages(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

// FindEntry returns the last captured entry with the given message.
func FindEntry(hook *test.Hook, msg string) *logrus.Entry {
	entries := hook.AllEntries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Message == msg {
			return entries[i]
		}
	}
	return nil
}

// Package pprof serves the debug endpoints of a long running consumer:
// profiles under /debug/pprof/ and Prometheus metrics under /metrics.
package pprof

import (
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/netlify/messenger-kafka/graceful"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handle adds the standard pprof handlers to the http.ServeMux
func Handle(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// NewServeMux builds a ServeMux with the pprof handlers and the metrics of
// the default Prometheus registry, which the prometheus:// metriks sink
// reports to.
func NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	Handle(mux)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run listens on addr and serves the debug mux in the background. The
// server is shut down by closer.
func Run(addr string, closer *graceful.Closer, log logrus.FieldLogger) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: NewServeMux()}
	closer.Register("debug-server", srv, 0)

	log = log.WithField("debug_addr", l.Addr().String())
	go func() {
		log.Info("Running debug server")
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Debug server stopped")
		}
	}()
	return l.Addr(), nil
}

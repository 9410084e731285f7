// Package common handles the initialization every binary performs: flag
// parsing, logging of build and flag state, signal handling, and optionally
// the admin HTTP server with Prometheus metrics.
package common

import (
	"flag"
	"net/http"
	"runtime"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.pixelhawk.org/hawk/go/cleanup"
	"go.pixelhawk.org/hawk/go/sklog"
)

// Opt represents the initialization parameters for a single init service.
// Each optional piece, e.g. prometheus, is encapsulated in its own Opt since
// initializations are order dependent and each app wants a different subset.
type Opt interface {
	// order is the sort order that Opts are executed in.
	order() int
	init(appName string) error
}

type optSlice []Opt

func (p optSlice) Len() int           { return len(p) }
func (p optSlice) Less(i, j int) bool { return p[i].order() < p[j].order() }
func (p optSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// baseInitOpt is always constructed internally and runs first.
type baseInitOpt struct{}

func (b *baseInitOpt) init(appName string) error {
	flag.VisitAll(func(f *flag.Flag) {
		sklog.Infof("Flags: --%s=%v", f.Name, f.Value)
	})

	// Use all cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Enable signal handling for the cleanup package.
	cleanup.Enable()

	return nil
}

func (b *baseInitOpt) order() int {
	return 0
}

// prometheusInitOpt implements Opt for the admin server with metrics.
type prometheusInitOpt struct {
	port *string
}

// PrometheusOpt creates an Opt to initialize the admin server when passed to
// InitWithMust. The server exposes /metrics and /healthz on the given port.
func PrometheusOpt(port *string) Opt {
	return &prometheusInitOpt{
		port: port,
	}
}

func (o *prometheusInitOpt) init(appName string) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	go func() {
		sklog.Infof("Admin server for %s on port %s", appName, *o.port)
		sklog.Error(http.ListenAndServe(*o.port, r))
	}()
	return nil
}

func (o *prometheusInitOpt) order() int {
	return 1
}

// InitWithMust performs the initialization for all of the given Opts and
// exits via sklog.Fatal on failure.
//
//	common.InitWithMust(
//		"hawk-monitor",
//		common.PrometheusOpt(promPort),
//	)
func InitWithMust(appName string, opts ...Opt) {
	flag.Parse()
	all := append(optSlice{&baseInitOpt{}}, opts...)
	sort.Sort(all)
	for _, o := range all {
		if err := o.init(appName); err != nil {
			sklog.Fatalf("Failed to initialize %s: %s", appName, err)
		}
	}
}

package debug

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	readyChecksMu sync.RWMutex
	readyChecks   = make(map[string]func() error)

	// Global registry for custom metrics
	globalRegistry = prometheus.NewRegistry()
)

func SetReady() {
	ready.Store(true)
}

func SetNotReady() {
	ready.Store(false)
}

// AddReadyCheck registers a named check consulted by /ready. Registering the
// same name again replaces the previous check.
func AddReadyCheck(name string, check func() error) {
	readyChecksMu.Lock()
	defer readyChecksMu.Unlock()
	readyChecks[name] = check
}

// ReadyErrors runs all checks and returns the failures keyed by name.
func ReadyErrors() map[string]error {
	readyChecksMu.RLock()
	defer readyChecksMu.RUnlock()

	failed := make(map[string]error)
	for name, check := range readyChecks {
		if err := check(); err != nil {
			failed[name] = err
		}
	}
	return failed
}

func IsReady() bool {
	return ready.Load() && len(ReadyErrors()) == 0
}

// Registry returns the Prometheus registry for registering custom metrics.
// Metrics registered here will be exported on /metrics alongside default metrics.
func Registry() prometheus.Registerer {
	return globalRegistry
}

// Gatherer exposes the custom registry for tests.
func Gatherer() prometheus.Gatherer {
	return globalRegistry
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		globalRegistry,
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	mux.Handle("/debug/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/heap/", pprof.Handler("heap"))
	mux.Handle("/debug/goroutine/", pprof.Handler("goroutine"))
	mux.Handle("/debug/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/trace", http.HandlerFunc(pprof.Trace))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		failed := ReadyErrors()
		if len(failed) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}

		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)

		w.WriteHeader(http.StatusServiceUnavailable)
		for _, name := range names {
			fmt.Fprintf(w, "%s: %v\n", name, failed[name])
		}
	})

	return mux
}

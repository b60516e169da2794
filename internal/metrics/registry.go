// Package metrics exposes Prometheus instrumentation for the SQRL core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sqrl"

// Registry is the dedicated registry all SQRL collectors attach to, keeping
// the process's default registry free of protocol metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

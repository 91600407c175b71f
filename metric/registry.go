package metric

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/sensorbridge/errors"
)

// Collectors names the collectors one component registers together.
type Collectors map[string]prometheus.Collector

// MetricsRegistry is the bridge's Prometheus registry. It holds the core
// metrics, the Go runtime collectors and whatever the stages register.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu         sync.Mutex
	registered map[string]prometheus.Collector // "component.name"
}

func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the process-wide metrics.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register adds a component's collectors. It is all or nothing: if a name is
// already taken for component, or Prometheus refuses one collector, none of
// them stay registered.
func (r *MetricsRegistry) Register(component string, cs Collectors) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(cs))
	for name := range cs {
		if _, taken := r.registered[component+"."+name]; taken {
			return errors.WrapInvalid(fmt.Errorf("metric %s already registered for %s", name, component),
				"MetricsRegistry", "Register", "check names")
		}
		names = append(names, name)
	}
	sort.Strings(names)

	done := make([]string, 0, len(names))
	for _, name := range names {
		if err := r.prometheusRegistry.Register(cs[name]); err != nil {
			for _, n := range done {
				r.prometheusRegistry.Unregister(cs[n])
				delete(r.registered, component+"."+n)
			}
			var conflict prometheus.AlreadyRegisteredError
			if stderrors.As(err, &conflict) {
				return errors.WrapInvalid(err, "MetricsRegistry", "Register", "register "+component+"."+name)
			}
			return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+component+"."+name)
		}
		r.registered[component+"."+name] = cs[name]
		done = append(done, name)
	}
	return nil
}

// Registered lists the registered "component.name" keys in order.
func (r *MetricsRegistry) Registered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.registered))
	for k := range r.registered {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

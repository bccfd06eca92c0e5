// Package metrics exposes pipeline counters to Prometheus and carries their
// totals across restarts through the metrics table.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

const (
	namespace = "market_oracle"
	subsystem = "pipeline"
)

// Store is the persistence used to survive restarts
type Store interface {
	SaveMetric(ctx context.Context, name string, value float64) error
	GetMetric(ctx context.Context, name string) (float64, error)
	SaveMetricWithLabels(ctx context.Context, name, labelKey, labelValue string, value float64) error
	GetMetricsWithLabels(ctx context.Context, name string) (map[string]map[string]float64, error)
}

type Metrics struct {
	Passes           *prometheus.CounterVec
	GateDecisions    *prometheus.CounterVec
	Triggers         *prometheus.CounterVec
	AnalyzerCalls    *prometheus.CounterVec
	InstrumentErrors *prometheus.CounterVec
	MessagesSent     prometheus.Counter
	DeliveryFailures prometheus.Counter
	Instruments      prometheus.Gauge
	PassDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
	mutex    sync.Mutex
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func New() *Metrics {
	m := &Metrics{
		Passes:           counterVec("passes_total", "Pipeline passes by kind and status", "kind", "status"),
		GateDecisions:    counterVec("gate_decisions_total", "Gate decisions by outcome", "decision"),
		Triggers:         counterVec("triggers_total", "Trigger reasons that contributed to a fire", "reason"),
		AnalyzerCalls:    counterVec("analyzer_calls_total", "Analyzer results by model and kind", "model", "result"),
		InstrumentErrors: counterVec("instrument_errors_total", "Instruments skipped by failure stage", "stage"),
		MessagesSent:     counter("messages_sent_total", "Messages delivered to subscribers"),
		DeliveryFailures: counter("delivery_failures_total", "Subscribers whose delivery failed"),
		Instruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "instruments",
			Help:      "Unique instruments evaluated by the last pass",
		}),
		PassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a pipeline pass",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Passes,
		m.GateDecisions,
		m.Triggers,
		m.AnalyzerCalls,
		m.InstrumentErrors,
		m.MessagesSent,
		m.DeliveryFailures,
		m.Instruments,
		m.PassDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves this instance's registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// labels are declared in name order, which is the order dto.Metric reports them
func (m *Metrics) labelled() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		"passes_total":            m.Passes,
		"gate_decisions_total":    m.GateDecisions,
		"triggers_total":          m.Triggers,
		"analyzer_calls_total":    m.AnalyzerCalls,
		"instrument_errors_total": m.InstrumentErrors,
	}
}

func (m *Metrics) plain() map[string]prometheus.Counter {
	return map[string]prometheus.Counter{
		"messages_sent_total":     m.MessagesSent,
		"delivery_failures_total": m.DeliveryFailures,
	}
}

// Load adds persisted totals onto the fresh counters
func (m *Metrics) Load(ctx context.Context, store Store) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for name, c := range m.plain() {
		v, err := store.GetMetric(ctx, name)
		if err != nil {
			log.Warnf("could not load metric %s: %v", name, err)
			continue
		}
		c.Add(v)
	}

	instruments, err := store.GetMetric(ctx, "instruments")
	if err == nil {
		m.Instruments.Set(instruments)
	}

	for name, vec := range m.labelled() {
		values, err := store.GetMetricsWithLabels(ctx, name)
		if err != nil {
			log.Warnf("could not load metric %s: %v", name, err)
			continue
		}
		for first, bySecond := range values {
			for second, v := range bySecond {
				labels := []string{first}
				if second != "" {
					labels = append(labels, second)
				}
				c, err := vec.GetMetricWithLabelValues(labels...)
				if err != nil {
					log.Warnf("dropping persisted %s%v: %v", name, labels, err)
					continue
				}
				c.Add(v)
			}
		}
	}
	log.Debug("Metrics loaded from database.")
}

// Save writes every counter total. Label values are stored as (first, second).
func (m *Metrics) Save(ctx context.Context, store Store) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for name, c := range m.plain() {
		if err := store.SaveMetric(ctx, name, GetMetricValue(c)); err != nil {
			log.Warnf("could not save metric %s: %v", name, err)
		}
	}
	if err := store.SaveMetric(ctx, "instruments", GetMetricValue(m.Instruments)); err != nil {
		log.Warnf("could not save metric instruments: %v", err)
	}

	for name, vec := range m.labelled() {
		vec := vec
		metricChan := make(chan prometheus.Metric)
		go func() {
			vec.Collect(metricChan)
			close(metricChan)
		}()

		for metric := range metricChan {
			metricProto := &dto.Metric{}
			if err := metric.Write(metricProto); err != nil {
				log.Warnf("failed to read %s: %v", name, err)
				continue
			}
			var first, second string
			for i, label := range metricProto.Label {
				if i == 0 {
					first = label.GetValue()
				} else {
					second = label.GetValue()
				}
			}
			if err := store.SaveMetricWithLabels(ctx, name, first, second, metricProto.GetCounter().GetValue()); err != nil {
				log.Warnf("could not save metric %s: %v", name, err)
			}
		}
	}
	log.Debug("Metrics saved to database.")
}

// GetMetricValue reads a single counter or gauge
func GetMetricValue(metric prometheus.Collector) float64 {
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	m, ok := <-metricChan
	if !ok {
		return 0
	}
	metricProto := &dto.Metric{}
	if err := m.Write(metricProto); err != nil {
		log.Warnf("Failed to read metric value: %v", err)
		return 0
	}

	if metricProto.Counter != nil {
		return metricProto.Counter.GetValue()
	} else if metricProto.Gauge != nil {
		return metricProto.Gauge.GetValue()
	}
	return 0
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records pipeline metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	registry     *prometheus.Registry
	llmDuration  *prometheus.HistogramVec
	llmTotal     *prometheus.CounterVec
	toolTotal    *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	modeDuration *prometheus.HistogramVec
}

// NewCollector constructs a collector on its own registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	llmDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stockbot",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for language model completions.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"provider", "purpose", "status"})

	llmTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Total number of language model completions.",
	}, []string{"provider", "purpose", "status"})

	toolTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Subsystem: "research",
		Name:      "tool_calls_total",
		Help:      "Research tool dispatches by tool and outcome.",
	}, []string{"tool", "status"})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockbot",
		Subsystem: "trader",
		Name:      "decisions_total",
		Help:      "Trading decisions emitted by action.",
	}, []string{"action", "fallback"})

	modeDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stockbot",
		Subsystem: "mode",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a mode invocation.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
	}, []string{"mode", "success"})

	for _, c := range []prometheus.Collector{llmDuration, llmTotal, toolTotal, decisions, modeDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:     registry,
		llmDuration:  llmDuration,
		llmTotal:     llmTotal,
		toolTotal:    toolTotal,
		decisions:    decisions,
		modeDuration: modeDuration,
	}, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) ObserveLLM(provider, purpose string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	s := status(err)
	c.llmTotal.WithLabelValues(provider, purpose, s).Inc()
	c.llmDuration.WithLabelValues(provider, purpose, s).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveTool(tool string, err error) {
	if c == nil {
		return
	}
	c.toolTotal.WithLabelValues(tool, status(err)).Inc()
}

func (c *Collector) ObserveDecision(action string, fallback bool) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(action, fmt.Sprintf("%t", fallback)).Inc()
}

func (c *Collector) ObserveMode(mode string, elapsed time.Duration, success bool) {
	if c == nil {
		return
	}
	c.modeDuration.WithLabelValues(mode, fmt.Sprintf("%t", success)).Observe(elapsed.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// WriteTextfile dumps the current metrics in the node_exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

var _ types.MetricsCollector = (*Collector)(nil)

// Collector records device metrics in a Prometheus registry
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *utils.Logger

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	openCounter       *prometheus.CounterVec
	commandCounter    *prometheus.CounterVec
	ladderCounter     *prometheus.CounterVec
	errorCounter      *prometheus.CounterVec
	lineGauge         prometheus.Gauge
	accessGauge       prometheus.Gauge
	sessionsGauge     prometheus.Gauge

	// Internal tracking
	operations map[string]*OperationMetrics
	startedAt  time.Time

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9108,
		Path:      "/metrics",
		Namespace: "ledgate",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector. A disabled collector
// accepts every call and records nothing.
func NewCollector(config *Config, logger *utils.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		logger:     logger.WithComponent("metrics"),
		operations: make(map[string]*OperationMetrics),
		startedAt:  time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the underlying registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves the metrics endpoint in the background
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(shutdownCtx)
	}()

	c.logger.Info("Serving metrics on :%d%s", c.config.Port, c.config.Path)
	return nil
}

// Stop stops the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records a device file operation
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	metrics.TotalSize += size
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
	c.mu.Unlock()

	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    statusLabel(success),
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))
	}
}

// RecordOpen counts an open attempt by result (ok, busy, not_initialized)
func (c *Collector) RecordOpen(result string) {
	if !c.config.Enabled {
		return
	}
	c.openCounter.WithLabelValues(result).Inc()
}

// RecordCommand counts a decoded write command
func (c *Collector) RecordCommand(command string) {
	if !c.config.Enabled {
		return
	}
	c.commandCounter.WithLabelValues(command).Inc()
}

// RecordLadderStep counts a ladder step outcome
func (c *Collector) RecordLadderStep(step string, success bool) {
	if !c.config.Enabled {
		return
	}
	c.ladderCounter.WithLabelValues(step, statusLabel(success)).Inc()
}

// RecordError counts an error by its device error code
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}
	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"code":      classifyError(err),
	}).Inc()
}

// SetLineLevel records the line level
func (c *Collector) SetLineLevel(on bool) {
	if !c.config.Enabled {
		return
	}
	c.lineGauge.Set(boolValue(on))
}

// SetAccessBound records whether the gate is bound
func (c *Collector) SetAccessBound(bound bool) {
	if !c.config.Enabled {
		return
	}
	c.accessGauge.Set(boolValue(bound))
}

// SetSessions records the session count
func (c *Collector) SetSessions(count uint64) {
	if !c.config.Enabled {
		return
	}
	c.sessionsGauge.Set(float64(count))
}

// GetMetrics returns a copy of the per-operation summaries
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}

	return map[string]interface{}{
		"operations": operations,
		"started_at": c.startedAt,
		"uptime":     time.Since(c.startedAt).String(),
	}
}

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem
	labels := prometheus.Labels(c.config.Labels)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operations_total",
			Help:        "Total number of device file operations",
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operation_duration_seconds",
			Help:        "Duration of device file operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operation_size_bytes",
			Help:        "Bytes moved by device file operations",
			Buckets:     prometheus.LinearBuckets(8, 8, 10),
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.openCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "opens_total",
			Help:        "Open attempts by result",
			ConstLabels: labels,
		},
		[]string{"result"},
	)

	c.commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "commands_total",
			Help:        "Write commands by decoded command",
			ConstLabels: labels,
		},
		[]string{"command"},
	)

	c.ladderCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "ladder_steps_total",
			Help:        "Resource acquisition steps by outcome",
			ConstLabels: labels,
		},
		[]string{"step", "result"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "errors_total",
			Help:        "Errors by operation and code",
			ConstLabels: labels,
		},
		[]string{"operation", "code"},
	)

	c.lineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "line_on",
		Help:        "1 when the output line is driven on",
		ConstLabels: labels,
	})

	c.accessGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "access_bound",
		Help:        "1 while a session holds the device",
		ConstLabels: labels,
	})

	c.sessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "sessions_total",
		Help:        "Successful opens since the daemon started",
		ConstLabels: labels,
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.openCounter,
		c.commandCounter,
		c.ladderCounter,
		c.errorCounter,
		c.lineGauge,
		c.accessGauge,
		c.sessionsGauge,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	if code, ok := errors.GetCode(err); ok {
		return string(code)
	}
	return string(errors.ErrCodeUnknownError)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := c.GetMetrics()
	operations, _ := metrics["operations"].(map[string]OperationMetrics)

	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)

	if r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(metrics)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("ledgate operations\n")
	writef("Uptime: %v\n\n", metrics["uptime"])

	if len(names) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-10s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Avg Size")
	for _, name := range names {
		op := operations[name]
		writef("%-10s %10d %10d %14v %10.1f\n", name, op.Count, op.Errors, op.AvgDuration, op.AvgSize)
	}
}

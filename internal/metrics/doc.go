/*
Package metrics exports device metrics through a Prometheus registry.

	┌─────────────┐
	│  Collector  │  implements types.MetricsCollector
	└──────┬──────┘
	       │
	   ┌───┴──────────────────────────┐
	   │                              │
	┌──▼───────────┐        ┌─────────▼─────────┐
	│  Prometheus  │        │  HTTP endpoints   │
	│   Registry   │        │  /metrics         │
	└──────────────┘        │  /debug/operations│
	                        └───────────────────┘

Exported series, under the configured namespace and subsystem:

	opens_total{result}              ok, busy, not_initialized
	commands_total{command}          on, off, unknown, empty
	operations_total{operation,status}
	operation_duration_seconds{operation}
	operation_size_bytes{operation}
	ladder_steps_total{step,result}
	errors_total{operation,code}
	line_on                          1 while the line is driven on
	access_bound                     1 while a session holds the device
	sessions_total                   successful opens

Usage:

	collector, err := metrics.NewCollector(metrics.DefaultConfig(), logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}

	controller, err := device.NewController(collab, cfg, collector, logger)

A disabled collector accepts every call and records nothing, so callers never
need to check whether metrics are on.
*/
package metrics

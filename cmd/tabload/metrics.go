package main

import (
	"context"
	"os"
	"strings"

	"tabload/internal/config"
	"tabload/internal/metrics"
	"tabload/internal/metrics/datadog"
)

// metricsBackend is what the CLI needs from a concrete backend.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// metricsHandle pairs the backend handed to the driver with its cleanup.
// close is never nil.
type metricsHandle struct {
	backend metrics.Backend
	close   func() error
}

func nopHandle() metricsHandle {
	return metricsHandle{backend: metrics.Nop{}, close: func() error { return nil }}
}

// Test seam.
var newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
	return datadog.NewBackend(ctx, opts)
}

// initMetrics picks the backend: flag, then env METRICS_BACKEND, then
// metrics.backend from the config. A backend that fails to start is logged
// and replaced by the nop backend; metrics never block a load.
func initMetrics(ctx context.Context, p config.Pipeline, backendName string, logf func(string, ...any)) (metricsHandle, error) {
	name := backendName
	if name == "" {
		name = os.Getenv("METRICS_BACKEND")
	}
	if name == "" {
		name = p.Metrics.Backend
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "nop":
		return nopHandle(), nil

	case "datadog", "dd":
		tags := append([]string{}, p.Metrics.Tags...)
		tags = append(tags, datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))...)

		// Close stops the periodic flush loop and submits once more.
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    p.Job,
			Tags:       tags,
			FlushEvery: p.Metrics.FlushEvery.Duration,
		})
		if err != nil {
			logf("metrics: failed to init datadog backend: %v; using nop", err)
			return nopHandle(), nil
		}
		logf("metrics: backend=datadog job_name=%v tags=%v", p.Job, tags)
		return metricsHandle{backend: b, close: b.Close}, nil

	default:
		logf("metrics: unknown backend %q; metrics disabled", name)
		return nopHandle(), nil
	}
}

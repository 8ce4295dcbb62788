// Package telemetry wires go.opentelemetry.io/otel metrics for bird's
// storage operations. A stdout exporter is attached only when
// BIRD_OTEL_STDOUT=1 is set, keeping the default CLI invocation silent
// (spec.md's CLI is meant to be scriptable) while still exercising the
// teacher's metrics stack for anyone who wants it.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/teaguesterling/bird/internal/errs"
)

// Meters groups the counters/histograms bird's storage layer records.
type Meters struct {
	Attempts      metric.Int64Counter
	Outcomes      metric.Int64Counter
	OrphansFound  metric.Int64Counter
	BlobBytesPut  metric.Int64Counter
	CompactionDur metric.Float64Histogram

	provider *sdkmetric.MeterProvider
}

// New builds a MeterProvider (with a stdout exporter when
// BIRD_OTEL_STDOUT=1 is set, otherwise a no-exporter provider that simply
// aggregates in memory) and the named instruments bird records against.
func New(ctx context.Context) (*Meters, error) {
	var opts []sdkmetric.Option
	if os.Getenv("BIRD_OTEL_STDOUT") == "1" {
		exp, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
		if err != nil {
			return nil, errs.Storagef("create stdout metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	meter := provider.Meter("github.com/teaguesterling/bird")

	attempts, err := meter.Int64Counter("bird.attempts.started")
	if err != nil {
		return nil, errs.Storagef("create attempts counter: %w", err)
	}
	outcomes, err := meter.Int64Counter("bird.outcomes.recorded")
	if err != nil {
		return nil, errs.Storagef("create outcomes counter: %w", err)
	}
	orphans, err := meter.Int64Counter("bird.orphans.recovered")
	if err != nil {
		return nil, errs.Storagef("create orphans counter: %w", err)
	}
	blobBytes, err := meter.Int64Counter("bird.blobs.bytes_written")
	if err != nil {
		return nil, errs.Storagef("create blob bytes counter: %w", err)
	}
	compactionDur, err := meter.Float64Histogram("bird.compaction.duration_seconds")
	if err != nil {
		return nil, errs.Storagef("create compaction duration histogram: %w", err)
	}

	return &Meters{
		Attempts: attempts, Outcomes: outcomes, OrphansFound: orphans,
		BlobBytesPut: blobBytes, CompactionDur: compactionDur, provider: provider,
	}, nil
}

// Shutdown flushes and closes the underlying provider.
func (m *Meters) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

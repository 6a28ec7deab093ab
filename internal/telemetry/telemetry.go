// Package telemetry wires OpenTelemetry tracing and metrics around the
// three hot paths a server operator actually wants visibility into:
// procedure execution (session.Execute), bytecode dispatch (vm.Run),
// and row lookups (storage.Table.MatchRows), plus counters for
// block-cache hits/misses and sync-region contention (spec §4.1, §5).
//
// No exporter is wired by default: Init installs a TracerProvider and
// MeterProvider so instrumentation calls are never no-ops against an
// unset global, but spans and metrics stay in-process until an
// operator configures a real exporter (spec §6.4 names no collector
// endpoint, so there is nothing to read one from yet).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/whais-db/whais-core"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	blockCacheHits   metric.Int64Counter
	blockCacheMisses metric.Int64Counter
	syncContentions  metric.Int64Counter
)

func init() {
	registerInstruments()
}

// Init installs a process-wide TracerProvider and MeterProvider tagged
// with serviceName, returning a shutdown func a caller should defer.
// Safe to call more than once in tests; the last call wins.
func Init(serviceName string) (shutdown func(context.Context) error, err error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	tracer = otel.Tracer(instrumentationName)
	meter = otel.Meter(instrumentationName)
	registerInstruments()

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

func registerInstruments() {
	blockCacheHits, _ = meter.Int64Counter("whais.blockcache.hits",
		metric.WithDescription("block cache lookups served without an items-manager read"))
	blockCacheMisses, _ = meter.Int64Counter("whais.blockcache.misses",
		metric.WithDescription("block cache lookups that had to load a block from the items manager"))
	syncContentions, _ = meter.Int64Counter("whais.sync.contentions",
		metric.WithDescription("BSYNC acquisitions that had to wait for another session to release the region"))
}

// StartSpan starts a span named name under tracer, the single entry
// point every instrumented package calls through so Init's
// TracerProvider swap is picked up uniformly.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// RecordBlockCacheHit/RecordBlockCacheMiss count an items-manager read
// avoided or incurred by blockcache.Cache.RetrieveItem.
func RecordBlockCacheHit(ctx context.Context)  { blockCacheHits.Add(ctx, 1) }
func RecordBlockCacheMiss(ctx context.Context) { blockCacheMisses.Add(ctx, 1) }

// RecordSyncContention counts one SyncRegistry.Acquire call that found
// its (procedure, sync index) key already held and had to wait.
func RecordSyncContention(ctx context.Context) { syncContentions.Add(ctx, 1) }

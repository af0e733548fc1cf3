// Package telemetry provides observability for depgraph processes.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process event publisher.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	g := graph.New(arena, registry,
//	    graph.WithLogger(tel.Logger.Zerolog()),
//	    graph.WithObserver(tel.Observer()),
//	)
//
// Observer returns a graph.Observer that feeds both the metrics and the
// event publisher: computations, cache hits, invalidations, writes and
// scope transitions are counted, and failures, writes, invalidations and
// scope transitions are published as events.
//
// # Operations
//
// StartOperation opens a span, derives a logger carrying the trace id and
// starts a timer. End records the outcome and counts graph errors by class
// and code:
//
//	op := telemetry.StartOperation(ctx, "depgraph.get", telemetry.AttrEntity.String("AAPL"))
//	v, err := session.GetVal("AAPL", "value")
//	op.End(err)
//
// # Metrics
//
// All metrics are registered on a private registry and exposed through
// Handler or StartMetricsServer. A disabled Metrics value is a valid
// observer that records nothing.
//
// # Events
//
// Subscribers run synchronously in publish order, or on the delivery
// goroutine when EnableAsync is set. Shutdown delivers buffered events
// before returning.
package telemetry

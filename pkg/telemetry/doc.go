// Package telemetry provides observability instrumentation for tracklane.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	srv := tel.StartMetricsServer()
//	defer srv.Shutdown(context.Background())
//
// Wire it into the engine:
//
//	eng := engine.New(deps, tel.Logger.Zerolog(), tel.EngineOptions()...)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("dispatch")
//	logger = logger.WithEventID(event.ID).WithProfileID(profile.ID)
//	logger.Info("Dispatching event")
//
// # Distributed Tracing
//
// The engine opens invocation.execute, rule.dispatch, segmentation.evaluate
// and profile.merge spans. CLI commands wrap them in a tracklane.<command>
// root span:
//
//	ctx, span := tel.Tracer.StartCommandSpan(ctx, "dispatch")
//	defer span.End()
//
// Exporters: "otlp" (OTLP/gRPC), "stdout" (pretty printed) and "none".
//
// # Metrics
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics):
//
//   - tracklane_rules_dispatched_total{event_type,status}
//   - tracklane_workflow_duration_seconds{event_type}
//   - tracklane_rule_cache_lookups_total{result}
//   - tracklane_segments_matched_total
//   - tracklane_segment_errors_total
//   - tracklane_profiles_merged_total
//   - tracklane_debug_records_written_total
//   - tracklane_errors_by_class_total{class}
//   - tracklane_active_invocations
//
// A disabled or nil *Metrics accepts every call.
package telemetry

// Package metrics exports router metrics through OpenTelemetry.
//
// Key metrics:
//   - Events published, dispatched and dropped (by cause)
//   - Per-subscriber delivery failures
//   - End-to-end delivery latency
//   - Queue depth by priority and connected clients (gauges)
//
// Instruments use the global meter provider; configure it with
// otel.SetMeterProvider before calling NewRecorder.
package metrics

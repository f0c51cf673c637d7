// Package metrics collects keepalive outcomes in process.
//
// The runner and scheduler emit events through a buffered channel and a
// dedicated goroutine folds them into per-project counters:
//   - successful heartbeats, and how many of them created the status document
//   - failures with the last error message
//   - resources (database, collection) created on first run
//   - run durations (average and P95)
//   - the outcome of the most recent round
//
// Emit never blocks; when the buffer is full the event is dropped. On
// shutdown the collector drains whatever is still queued.
//
// Example usage:
//
//	collector := metrics.NewCollector(256, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventHeartbeatSent,
//		Project:  "my-project",
//		Duration: 120 * time.Millisecond,
//	})
//
//	snapshot := collector.Snapshot()
//
// Handler and HealthHandler expose the snapshot over HTTP.
package metrics

// Package metrics records how the live channel ingests the report stream.
//
// The [Collector] counts frames, applied updates, reloads and failures, and
// keeps apply latencies in an HDR histogram:
//
//	collector := metrics.NewCollector()
//	collector.RecordMessage(len(frame))
//	collector.RecordUpdate(latency, applied.Samples, applied.Created)
//	stats := collector.Stats(time.Since(start))
//
// Failures are grouped by a human-friendly label, see [ErrorLabel].
package metrics

// Package sink provides the downstream consumers of register snapshots.
//
// Implementations:
//
//   - FileSink appends a CBOR stream that Reader reads back with filters.
//   - SQLiteSink stores snapshots and per-value samples for queries.
//   - HTTPSink posts CBOR documents to an HTTP/2 ingest endpoint.
//   - LogSink prints snapshots through slog.
//   - MultiSink fans out to several sinks.
//
// New and Open build sinks from configuration.
package sink

// Package core provides the business logic for vehicle telemetry ingestion
// and retrieval.
//
// This package holds all domain logic independent of the HTTP layer. It can
// be used by web handlers, CLI tools, or tests without modification.
//
// # Architecture
//
// The package is organized around several key concepts:
//
//   - Record: One reading (vehicle_id, timestamp, speed, odometer, soc,
//     elevation, shift_state), unique per (vehicle_id, timestamp).
//   - Store: Persistence. [PgStore] is the PostgreSQL implementation.
//   - Service: The main entry point for all operations (list, get, create,
//     upload, finalize, export).
//   - Normalizer: Turns loosely formatted timestamps into UTC instants.
//
// # Chunked Upload
//
// Large CSV files arrive in numbered chunks and are bulk-loaded in one
// transaction. Memory use does not depend on file size. The flow is:
//
//  1. Client sends each chunk; [Service.PutChunk] writes it to the chunk dir
//  2. Client calls [Service.Finalize] with the chunk count and vehicle_id
//  3. Chunks are concatenated in index order and deleted ([ChunkStore.Reassemble])
//  4. The header is checked and every row gets vehicle_id appended ([RewriteCSV])
//  5. The rewritten file is COPY'd into a temp staging table and merged,
//     skipping rows that collide with existing (vehicle_id, timestamp) pairs
//
// A header without the required columns fails the whole upload before any
// row is written. Any failure after that rolls back the whole file.
//
// # Error Handling
//
// Domain errors are typed ([ValidationError], [NotFoundError],
// [ConflictError], [StorageError]) so the transport layer can choose a
// status code. Technical errors are mapped to user-friendly messages using
// [MapError]. Each error category has a unique code for support reference:
//
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
//   - VAL001-VAL006: Validation errors (formats, missing columns)
//   - FILE001-FILE005: File errors (size, missing chunks, encoding)
//   - UPL001-UPL005: Upload errors (busy, cancelled, timeout)
//   - QRY001-QRY002: Query errors (invalid page, not found)
package core

// Package request defines the units of work a scanner executes against every
// discovered peripheral, and the built-in request kinds.
//
// A Request is an immutable descriptor: a characteristic UUID and an operation
// kind. Per-peer progress lives in an Exchange, created fresh for every peer
// session that reaches the Request in the queue:
//   - CharacteristicMatched records the handle located on that peer
//   - Perform dispatches the next read or write
//   - HandleResponse interprets the answer and reports completion
//
// Built-in kinds cover single reads and writes, offset-based chunked reads,
// chunked writes, and series reads that fetch items until the peer runs dry.
package request

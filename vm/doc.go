// Package vm implements the Toffee virtual machine.
//
// This package contains:
//   - Tagged 64-bit value representation
//   - Reference-counted per-fiber heaps with deep cloning
//   - Hash-ordered immutable structs
//   - A stack-based bytecode interpreter with resumable execution
//   - Cooperative fibers, channels, and a round-robin scheduler
//   - Pluggable tracing and a CBOR program image format
package vm

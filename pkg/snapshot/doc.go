// Package snapshot defines the register snapshot emitted after every
// successful poll of a device, its CBOR encoding, and the decoding of raw
// register words into numbers.
//
// Snapshots are values. Once built by a device session they are never
// modified; the emitter, the sinks and the offline tools only read them.
//
// # Word order
//
// FX5U CPUs and most Modbus devices in the field store 32-bit values low
// word first, so Decode combines words[0] as bits 0-15 and words[1] as bits
// 16-31.
package snapshot

// Package transport provides the PLC transport clients used by device
// sessions.
//
// A Client owns at most one TCP connection to one PLC and performs
// word-unit register reads on it:
//
//	┌────────────────────────────────┐
//	│   Client.ReadWords(addr, n)    │
//	├───────────────┬────────────────┤
//	│ SLMP 3E frame │ Modbus TCP ADU │
//	├───────────────┴────────────────┤
//	│              TCP               │
//	└────────────────────────────────┘
//
// # SLMP
//
// SLMPClient speaks the MC protocol 3E binary frame used by Mitsubishi
// iQ-F (FX5U) and Q/L series CPUs: batch read in word units (command
// 0x0401, subcommand 0x0000). Addresses use the MELSEC device notation,
// e.g. "D100", "W1A", "ZR2000". W, SW and B device numbers are hexadecimal.
//
// # Modbus TCP
//
// ModbusClient wraps github.com/goburrow/modbus. Addresses are "HR<n>" (or a
// bare offset) for holding registers and "IR<n>" for input registers, with
// 0-based offsets.
//
// # Timeouts and cancellation
//
// Open and ReadWords take their deadline from the context. A cancelled
// context aborts a blocking SLMP socket operation immediately; the Modbus
// client checks the context between requests and bounds each request by the
// remaining deadline. Errors wrap fault.ErrProtocol when the peer answered
// but the reply was rejected, so callers can classify them with
// fault.Classify.
//
// Clients serialize their calls internally. A device session issues one
// request at a time anyway.
package transport

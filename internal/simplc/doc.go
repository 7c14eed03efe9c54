// Package simplc implements simulated PLC servers for tests and local
// development.
//
// SLMPServer answers MC protocol 3E binary batch word reads; ModbusServer
// answers Modbus TCP function codes 3 and 4 through mbserver. Both serve
// the same Memory, so one simulated device can be polled over either
// protocol.
//
// Both servers inject response delays, forced SLMP end codes and Modbus
// exceptions. The SLMP server can also drop every open connection.
// Closing the listener makes either server refuse new connections. Together
// these exercise the reconnect path end to end.
package simplc

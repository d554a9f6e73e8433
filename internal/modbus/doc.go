// Package modbus implements a minimal Modbus TCP client for reading
// holding registers from sensor endpoints.
//
// The client supports a single operation, read holding registers
// (function 0x03), which is all the polling service needs. Each attempt
// opens a fresh connection so a flaky device never poisons later polls
// with a half-dead socket.
//
// Register decoding follows the register count configured per device:
// one register yields the raw 16-bit integer, two registers decode as a
// big-endian IEEE-754 float32, four as a float64.
package modbus

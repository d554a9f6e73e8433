package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"
)

// Modbus TCP protocol constants.
const (
	// mbapHeaderSize is the size of the MBAP (Modbus Application
	// Protocol) header: transaction(2) + protocol(2) + length(2) + unit(1).
	mbapHeaderSize = 7

	// protocolIdentifier is always zero for Modbus TCP.
	protocolIdentifier uint16 = 0x0000

	// funcReadHoldingRegisters is Modbus function code 0x03.
	funcReadHoldingRegisters byte = 0x03

	// exceptionFlag is set on the function code in exception responses.
	exceptionFlag byte = 0x80

	// maxRegisterCount bounds a single read request. The decoder only
	// understands 1, 2 and 4 registers but the wire limit is enforced
	// separately so malformed device rows fail loudly.
	maxRegisterCount = 125
)

// Target identifies a Modbus register block on a TCP endpoint.
type Target struct {
	// Host is the device's IP address or hostname.
	Host string

	// Port is the Modbus TCP port (conventionally 502).
	Port int

	// SlaveID is the Modbus unit identifier (1-247, or 0xFF for
	// devices that ignore it).
	SlaveID byte

	// Register is the starting holding register address.
	Register uint16

	// Count is the number of consecutive registers to read.
	Count uint16
}

// Addr returns the TCP dial address for the target.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", t.Port))
}

// Client reads holding registers from Modbus TCP devices.
//
// Each read attempt opens a fresh TCP connection, performs a single
// request/response exchange and closes the connection. Sensor endpoints
// in the field frequently drop idle connections or reset between polls,
// so a persistent connection buys nothing and complicates recovery.
//
// Thread Safety: Client is safe for concurrent use. Attempts share only
// the transaction counter, which is atomic.
type Client struct {
	timeout time.Duration
	logger  Logger

	// txn generates MBAP transaction identifiers. Wraps at 16 bits.
	txn atomic.Uint32
}

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// NewClient creates a Modbus TCP client.
//
// Parameters:
//   - timeout: per-attempt deadline covering dial, write and read.
//   - logger: structured logger (nil for no logging).
func NewClient(timeout time.Duration, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		timeout: timeout,
		logger:  logger,
	}
}

// Read performs a single read-holding-registers exchange and decodes
// the result into a measurement value.
//
// Decoding depends on the register count:
//   - 1 register: the raw 16-bit value as an integer.
//   - 2 registers: IEEE-754 float32, big-endian word order.
//   - 4 registers: IEEE-754 float64, big-endian word order.
//
// Returns ErrTimeout when the attempt deadline expires,
// ErrConnectionFailed when the TCP connection cannot be established or
// drops mid-exchange, an *ExceptionError when the device rejects the
// request, and ErrInvalidResponse for malformed frames.
func (c *Client) Read(ctx context.Context, target Target) (float64, error) {
	words, err := c.ReadRegisters(ctx, target)
	if err != nil {
		return 0, err
	}
	return DecodeRegisters(words)
}

// ReadRegisters performs the wire exchange and returns the raw register
// words without decoding.
func (c *Client) ReadRegisters(ctx context.Context, target Target) ([]uint16, error) {
	if target.Count == 0 || target.Count > maxRegisterCount {
		return nil, fmt.Errorf("%w: count %d", ErrUnsupportedCount, target.Count)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, classifyNetError(err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	txn := uint16(c.txn.Add(1))
	frame := buildReadRequest(txn, target)

	if _, err := conn.Write(frame); err != nil {
		return nil, classifyNetError(err)
	}

	words, err := readResponse(conn, txn, target.Count)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("modbus read complete",
		"addr", target.Addr(),
		"register", target.Register,
		"count", target.Count,
	)
	return words, nil
}

// buildReadRequest encodes a read-holding-registers request frame.
//
// Wire layout (12 bytes total):
//
//	Byte 0-1:  Transaction identifier (big-endian)
//	Byte 2-3:  Protocol identifier (always 0x0000)
//	Byte 4-5:  Remaining length (unit + PDU = 6)
//	Byte 6:    Unit identifier (slave ID)
//	Byte 7:    Function code (0x03)
//	Byte 8-9:  Starting register address (big-endian)
//	Byte 10-11: Register count (big-endian)
func buildReadRequest(txn uint16, target Target) []byte {
	frame := make([]byte, 12)
	binary.BigEndian.PutUint16(frame[0:2], txn)
	binary.BigEndian.PutUint16(frame[2:4], protocolIdentifier)
	binary.BigEndian.PutUint16(frame[4:6], 6)
	frame[6] = target.SlaveID
	frame[7] = funcReadHoldingRegisters
	binary.BigEndian.PutUint16(frame[8:10], target.Register)
	binary.BigEndian.PutUint16(frame[10:12], target.Count)
	return frame
}

// readResponse reads and validates a response frame from the connection.
func readResponse(conn net.Conn, txn uint16, count uint16) ([]uint16, error) {
	header := make([]byte, mbapHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, classifyNetError(err)
	}

	respTxn := binary.BigEndian.Uint16(header[0:2])
	respProto := binary.BigEndian.Uint16(header[2:4])
	respLen := binary.BigEndian.Uint16(header[4:6])

	if respProto != protocolIdentifier {
		return nil, fmt.Errorf("%w: protocol identifier %#04x", ErrInvalidResponse, respProto)
	}
	if respTxn != txn {
		return nil, fmt.Errorf("%w: transaction %d, expected %d", ErrInvalidResponse, respTxn, txn)
	}
	// Length covers the unit byte already consumed plus the PDU.
	if respLen < 2 || respLen > 256 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidResponse, respLen)
	}

	pdu := make([]byte, respLen-1)
	if _, err := io.ReadFull(conn, pdu); err != nil {
		return nil, classifyNetError(err)
	}

	switch {
	case pdu[0] == funcReadHoldingRegisters|exceptionFlag:
		if len(pdu) < 2 {
			return nil, fmt.Errorf("%w: truncated exception", ErrInvalidResponse)
		}
		return nil, &ExceptionError{Code: pdu[1]}

	case pdu[0] != funcReadHoldingRegisters:
		return nil, fmt.Errorf("%w: function %#02x", ErrInvalidResponse, pdu[0])
	}

	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: missing byte count", ErrInvalidResponse)
	}
	byteCount := int(pdu[1])
	if byteCount != int(count)*2 || len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrInvalidResponse, byteCount, count)
	}

	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(pdu[2+i*2 : 4+i*2])
	}
	return words, nil
}

// DecodeRegisters converts raw register words into a measurement value.
//
// Word order is big-endian: the first register holds the most
// significant bits. This matches the byte order on the wire, so a
// multi-register value is simply the concatenated response bytes.
func DecodeRegisters(words []uint16) (float64, error) {
	switch len(words) {
	case 1:
		return float64(words[0]), nil
	case 2:
		bits := uint32(words[0])<<16 | uint32(words[1])
		return float64(math.Float32frombits(bits)), nil
	case 4:
		bits := uint64(words[0])<<48 | uint64(words[1])<<32 |
			uint64(words[2])<<16 | uint64(words[3])
		return math.Float64frombits(bits), nil
	default:
		return 0, fmt.Errorf("%w: %d registers", ErrUnsupportedCount, len(words))
	}
}

// classifyNetError maps transport errors onto the package sentinels so
// callers can distinguish timeouts from connection failures.
func classifyNetError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}

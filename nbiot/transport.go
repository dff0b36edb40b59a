package nbiot

import (
	"context"
	"io"
	"time"
)

// Transport represents an established, bidirectional byte stream to the
// modem's UART.
//
// A Transport is assumed to be already connected and ready for use. In
// addition to the usual stream primitives it must satisfy an idle-read
// contract: Read returns promptly with n == 0 and a nil error when the
// device currently has nothing to send, rather than blocking until data
// arrives. The command channel relies on this to drain "everything the
// modem has sent so far" after a settle wait, since the protocol offers
// no response-complete signal. Serial ports provide this via a short
// read timeout; test doubles simply return (0, nil) when empty.
type Transport interface {
	io.ReadWriteCloser

	// ResetInput discards any bytes the device has sent that no reader
	// has consumed yet.
	ResetInput() error
}

// Dialer opens a Transport to the modem.
//
// Dialer abstracts how the connection is created (serial port, emulator,
// test double) and is intended to be used during construction only. Once
// a Transport is obtained, the Dialer is no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport.
	// It may perform blocking operations and should respect cancellation and
	// deadlines provided by the context. Dial returns an error if the
	// transport cannot be established.
	Dial(ctx context.Context) (Transport, error)
}

// PowerLine is the physical power control signal of the HAT, treated as
// an opaque capability: assert the line for a fixed duration, then leave
// it deasserted for a recovery period. The SIM7080X uses distinct pulse
// widths for power-on and power-off.
type PowerLine interface {
	Pulse(assert, recover time.Duration) error
}

package nbiot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialDialer opens the HAT's UART using go.bug.st/serial.
//
// The returned Transport satisfies the idle-read contract by setting a
// short read timeout on the port: a Read that finds no pending bytes
// within PollWindow returns (0, nil), which the command channel treats
// as "line quiescent".
type SerialDialer struct {
	// PortName is the device path of the UART (e.g. "/dev/ttyS0").
	PortName string
	// Mode configures baud rate and framing. Nil selects the HAT default
	// of 9600 8N1.
	Mode *serial.Mode
	// PollWindow is the per-Read idle timeout. Zero selects the default
	// from DefaultPollWindow.
	PollWindow time.Duration
}

// DefaultPollWindow bounds how long a single Read waits for the line to
// produce data before reporting it idle.
const DefaultPollWindow = 20 * time.Millisecond

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("nbiot: context is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.PortName == "" {
		return nil, errors.New("nbiot: serial port name is required")
	}

	mode := d.Mode
	if mode == nil {
		mode = &serial.Mode{
			BaudRate: 9600,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}

	pollWindow := d.PollWindow
	if pollWindow <= 0 {
		pollWindow = DefaultPollWindow
	}
	if err := port.SetReadTimeout(pollWindow); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", d.PortName, err)
	}

	return &serialTransport{port: port}, nil
}

type serialTransport struct {
	port serial.Port
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *serialTransport) Close() error                { return t.port.Close() }

func (t *serialTransport) ResetInput() error {
	return t.port.ResetInputBuffer()
}

package nbiot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/nbiotgw/at"
)

// Channel frames one text command per request over the transport and
// reads the response with a settle-then-drain policy: write the command,
// block for a fixed settle duration, then collect everything the modem
// has produced and split it into trimmed, non-empty lines.
//
// The settle wait is a timing heuristic standing in for a
// response-complete signal the protocol does not have. The hard
// constraint it encodes is that no command may be written while a prior
// command's reply window is still open: overlap corrupts line-to-command
// attribution with no way to detect it afterwards. Callers must
// serialize access; Hat does so with a single mutex around every full
// command/response cycle.
type Channel struct {
	transport Transport
	settle    time.Duration
	logger    *slog.Logger

	// sleep is stubbed in tests to pin settle and transfer-wait budgets.
	sleep func(time.Duration)
}

// NewChannel wraps an established transport. settle is the default wait
// between write and read; a nil logger selects slog.Default().
func NewChannel(transport Transport, settle time.Duration, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		transport: transport,
		settle:    settle,
		logger:    logger,
		sleep:     time.Sleep,
	}
}

var controlChars = strings.NewReplacer("\r", "<cr>", "\n", "<lf>")

// Send issues one command with the channel's default settle duration.
func (c *Channel) Send(ctx context.Context, cmd string) ([]string, error) {
	return c.SendSettle(ctx, cmd, c.settle)
}

// SendSettle issues one command with an explicit settle duration. Slow
// operations (radio toggles, context activation, the liveness probe on a
// booting modem) need a longer window than the default.
//
// Any bytes already pending before the write indicate an unsolicited
// notification or a desynchronization left by a prior exchange; they are
// drained, logged as a warning, and the input buffer is reset so the
// response can be attributed cleanly.
//
// Cancellation is honored only before the write. Once the command is on
// the wire the full settle/read cycle runs to completion; aborting
// mid-cycle would leave the response to be misattributed to the next
// command.
func (c *Channel) SendSettle(ctx context.Context, cmd string, settle time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stale, err := c.drain()
	if err != nil {
		return nil, fmt.Errorf("drain before %q: %w", cmd, err)
	}
	if len(stale) > 0 {
		c.logger.Warn("Discarding stale bytes before command",
			"command", cmd, "buffer", controlChars.Replace(string(stale)))
		if err := c.transport.ResetInput(); err != nil {
			return nil, fmt.Errorf("reset input before %q: %w", cmd, err)
		}
	}

	wire := strings.TrimSpace(cmd) + "\r"
	if _, err := c.transport.Write([]byte(wire)); err != nil {
		return nil, fmt.Errorf("write command %q: %w", cmd, err)
	}

	c.sleep(settle)

	raw, err := c.drain()
	if err != nil {
		return nil, fmt.Errorf("read response to %q: %w", cmd, err)
	}

	lines := at.Lines(raw)
	c.logger.Debug("Command exchange", "command", cmd, "response", lines)
	c.logURCs(lines)
	return lines, nil
}

// Stream writes raw payload bytes with no line terminator and no
// pre-drain, blocks for the given transfer wait, and returns whatever
// lines the modem produced. It is used for the data phase of file
// uploads and publishes, after the command phase has already claimed the
// channel and collected its prompt.
func (c *Channel) Stream(ctx context.Context, payload []byte, wait time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := c.transport.Write(payload); err != nil {
		return nil, fmt.Errorf("write payload (%d bytes): %w", len(payload), err)
	}

	c.sleep(wait)

	raw, err := c.drain()
	if err != nil {
		return nil, fmt.Errorf("read payload response: %w", err)
	}

	lines := at.Lines(raw)
	c.logger.Debug("Payload exchange", "size", len(payload), "response", lines)
	c.logURCs(lines)
	return lines, nil
}

// logURCs notes unsolicited notifications mixed into a response. The
// synchronous flow does not act on them, but they carry modem state
// (+CPIN transitions, +APP PDP outcomes) worth tracing on their own.
func (c *Channel) logURCs(lines []string) {
	for _, line := range lines {
		if at.Classify(line) == at.TypeURC {
			c.logger.Debug("Unsolicited notification", "line", line)
		}
	}
}

// drain reads until the transport reports the line idle (a Read
// returning zero bytes) and returns everything collected.
func (c *Channel) drain() ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 256)
	for {
		n, err := c.transport.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			return buf.Bytes(), err
		}
		if n == 0 {
			return buf.Bytes(), nil
		}
	}
}

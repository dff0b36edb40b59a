// Package nbiot drives a Waveshare SIM7080X NB-IoT HAT over its
// line-oriented AT command channel: power and liveness control, packet
// data context bring-up, certificate provisioning into modem flash, and
// an MQTT session terminating inside the modem.
package nbiot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"i4.energy/across/nbiotgw/at"
)

// Readiness is the modem's probed liveness state. It is set once per
// Initialize attempt sequence and never re-derived automatically;
// callers that suspect staleness must call Initialize again.
type Readiness int

const (
	ReadinessUnknown Readiness = iota
	ReadinessReady
	ReadinessNotReady
)

func (r Readiness) String() string {
	switch r {
	case ReadinessReady:
		return "ready"
	case ReadinessNotReady:
		return "not ready"
	default:
		return "unknown"
	}
}

// Power pulse pattern of the SIM7080X power key.
const (
	powerOnAssert  = 1 * time.Second
	powerOffAssert = 2 * time.Second
	powerRecover   = 5 * time.Second
)

// Hat is a Waveshare SIM7080X NB-IoT HAT.
//
// All exported operations take one mutex around their full
// command/response cycle, so a Hat is safe for concurrent use; the
// underlying channel itself is strictly single-writer. Operations are
// synchronous and blocking, and cancellation is honored only between
// command cycles.
type Hat struct {
	mu        sync.Mutex
	channel   *Channel
	transport Transport
	config    Config
	logger    *slog.Logger

	closed    bool
	readiness Readiness

	// contexts is the arena of packet data contexts, indexed by id.
	// A nil slot is an undefined context.
	contexts [ContextIDMax + 1]*PDPContext
	// active indexes the single active context, or is nil. Mutated only
	// by activate/deactivate.
	active *int

	connected bool
}

// New dials the transport and returns a Hat ready for Initialize. It
// does not touch the modem.
func New(ctx context.Context, config Config) (*Hat, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	return &Hat{
		channel:   NewChannel(transport, config.SettleDuration, config.Logger.With("component", "channel")),
		transport: transport,
		config:    config,
		logger:    config.Logger,
	}, nil
}

// Close shuts down the Hat and closes the transport. After Close the Hat
// cannot be reused.
func (h *Hat) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	h.closed = true

	if h.transport != nil {
		return h.transport.Close()
	}
	return nil
}

// PowerOn pulses the power key with the power-on pattern once.
func (h *Hat) PowerOn() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrAlreadyClosed
	}
	return h.powerOn()
}

// PowerOff pulses the power key with the power-off pattern once.
func (h *Hat) PowerOff() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrAlreadyClosed
	}
	if h.config.Power == nil {
		return ErrNoPowerLine
	}
	h.logger.Debug("Powering off SIM7080X")
	return h.config.Power.Pulse(powerOffAssert, powerRecover)
}

func (h *Hat) powerOn() error {
	if h.config.Power == nil {
		return ErrNoPowerLine
	}
	h.logger.Debug("Powering on SIM7080X")
	return h.config.Power.Pulse(powerOnAssert, powerRecover)
}

// Initialize probes the modem with the liveness command, power-pulsing
// and retrying on failure, up to maxAttempts tries (0 selects the
// configured default). It leaves the readiness state terminal: ready on
// the first OK, not ready once attempts are exhausted. No other
// operation retries; callers that find the modem unready decide
// themselves whether to initialize again.
func (h *Hat) Initialize(ctx context.Context, maxAttempts int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if maxAttempts <= 0 {
		maxAttempts = h.config.InitAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lines, err := h.channel.SendSettle(ctx, at.CmdProbe, h.config.ProbeSettle)
		if err == nil && hasLine(lines, at.OK) {
			h.readiness = ReadinessReady
			h.logger.Debug("Modem responsive", "attempt", attempt)
			return nil
		}
		if err != nil {
			h.logger.Debug("Liveness probe failed", "attempt", attempt, "error", err)
		}

		if h.config.Power != nil {
			h.logger.Debug("Attempting module power on", "attempt", attempt)
			if err := h.powerOn(); err != nil {
				h.logger.Warn("Power pulse failed", "error", err)
			}
		}
	}

	h.readiness = ReadinessNotReady
	return fmt.Errorf("%w: modem unresponsive after %d attempts", ErrProtocol, maxAttempts)
}

// Readiness reports the result of the last Initialize attempt sequence.
func (h *Hat) Readiness() Readiness {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readiness
}

// SetFunctionality toggles the modem's radio functionality level
// (AT+CFUN) and reports whether the toggle was confirmed. Confirmation
// requires both the OK final result and the unsolicited SIM status line
// that accompanies a functionality change (+CPIN: READY when enabling,
// +CPIN: NOT READY when disabling).
//
// This is the one operation with a boolean contract instead of an error
// return: failures are logged and reported as false so that callers like
// DefineContext can decide how hard to fail.
func (h *Hat) SetFunctionality(ctx context.Context, enabled bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	return h.setFunctionality(ctx, enabled)
}

func (h *Hat) setFunctionality(ctx context.Context, enabled bool) bool {
	cmd, status := at.CmdRadioOff, at.SimNotReady
	if enabled {
		cmd, status = at.CmdRadioOn, at.SimReady
	}

	lines, err := h.channel.Send(ctx, cmd)
	if err != nil {
		h.logger.Error("Functionality toggle failed", "enabled", enabled, "error", err)
		return false
	}
	if !hasLine(lines, at.OK) {
		h.logger.Error("Functionality toggle not confirmed", "enabled", enabled, "response", lines)
		return false
	}
	return hasLine(lines, status)
}

// hasLine reports whether the response contains want as a whole line.
func hasLine(lines []string, want string) bool {
	return slices.Contains(lines, want)
}

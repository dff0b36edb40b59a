package nbiot

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOPowerLine drives the HAT's power key through the Linux GPIO
// character device. The line is requested as an output on first use and
// held until Close.
//
// The HAT's power key is wired active-high on the reference carrier
// board; set ActiveLow for carriers that invert the signal.
type GPIOPowerLine struct {
	// Chip is the gpiochip device name. Empty selects "gpiochip0", the
	// header bank on the Pi deployment.
	Chip string
	// Pin is the line offset on the chip (e.g. 4 on the Pi deployment).
	Pin int
	// ActiveLow inverts the asserted level.
	ActiveLow bool

	line  *gpiocdev.Line
	sleep func(time.Duration)
}

var _ PowerLine = (*GPIOPowerLine)(nil)

func (g *GPIOPowerLine) chip() string {
	if g.Chip != "" {
		return g.Chip
	}
	return "gpiochip0"
}

// Pulse asserts the power key for the given duration, deasserts it, and
// holds for the recovery period before returning.
func (g *GPIOPowerLine) Pulse(assert, recover time.Duration) error {
	if err := g.request(); err != nil {
		return err
	}

	sleep := g.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	if err := g.line.SetValue(1); err != nil {
		return fmt.Errorf("assert gpio %d: %w", g.Pin, err)
	}
	sleep(assert)
	if err := g.line.SetValue(0); err != nil {
		return fmt.Errorf("deassert gpio %d: %w", g.Pin, err)
	}
	sleep(recover)
	return nil
}

func (g *GPIOPowerLine) request() error {
	if g.line != nil {
		return nil
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
	if g.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	line, err := gpiocdev.RequestLine(g.chip(), g.Pin, opts...)
	if err != nil {
		return fmt.Errorf("request gpio %d on %s: %w", g.Pin, g.chip(), err)
	}
	g.line = line
	return nil
}

// Close releases the requested line. A never-pulsed power line closes
// without error.
func (g *GPIOPowerLine) Close() error {
	if g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	return err
}

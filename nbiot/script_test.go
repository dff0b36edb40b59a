package nbiot_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"i4.energy/across/nbiotgw/nbiot"
)

// newTestHat builds a Hat over the given scripted transport with all
// waits stubbed out, and registers cleanup that fails the test on any
// recorded script deviation.
func newTestHat(t *testing.T, transport *nbiot.ScriptTransport) *nbiot.Hat {
	t.Helper()

	config, err := nbiot.NewConfigBuilder().
		WithDialer(nbiot.ScriptDialer{Transport: transport}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	h, err := nbiot.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create hat: %v", err)
	}
	nbiot.StubSleep(h, func(time.Duration) {})

	t.Cleanup(func() {
		h.Close()
		for _, failure := range transport.Failures() {
			t.Errorf("script deviation: %s", failure)
		}
	})
	return h
}

// ScriptBuilder assembles the wire-level exchange script for a
// multi-command flow.
type ScriptBuilder struct {
	steps []nbiot.ScriptStep
}

func NewScript() *ScriptBuilder {
	return &ScriptBuilder{}
}

func (b *ScriptBuilder) Step(expect, respond string) *ScriptBuilder {
	b.steps = append(b.steps, nbiot.ScriptStep{Expect: expect, Respond: respond})
	return b
}

func (b *ScriptBuilder) RadioOff() *ScriptBuilder {
	return b.Step("AT+CFUN=0\r", "\r\nOK\r\n\r\n+CPIN: NOT READY\r\n")
}

func (b *ScriptBuilder) RadioOn() *ScriptBuilder {
	return b.Step("AT+CFUN=1\r", "\r\nOK\r\n\r\n+CPIN: READY\r\n")
}

func (b *ScriptBuilder) Attach() *ScriptBuilder {
	return b.Step("AT+CGATT?\r", "\r\n+CGATT: 1\r\n\r\nOK\r\n")
}

func (b *ScriptBuilder) APNEcho(id int, apn string) *ScriptBuilder {
	return b.Step("AT+CGNAPN\r", fmt.Sprintf("\r\n+CGNAPN: %d,\"%s\"\r\n\r\nOK\r\n", id, apn))
}

// Define scripts the full definition sequence of an IP-capable context.
func (b *ScriptBuilder) Define(id int, token, apn string) *ScriptBuilder {
	return b.RadioOff().
		Step(fmt.Sprintf("AT+CGDCONT=%d,\"%s\",\"%s\"\r", id, token, apn), "\r\nOK\r\n").
		RadioOn().
		Attach().
		APNEcho(id, apn)
}

func (b *ScriptBuilder) Configure(id int, token, apn string) *ScriptBuilder {
	return b.Step(fmt.Sprintf("AT+CNCFG=%d,\"%s\",\"%s\"\r", id, token, apn), "\r\nOK\r\n")
}

func (b *ScriptBuilder) Activate(id, action int) *ScriptBuilder {
	confirm := "ACTIVE"
	if action == 0 {
		confirm = "DEACTIVE"
	}
	return b.Step(fmt.Sprintf("AT+CNACT=%d,%d\r", id, action),
		fmt.Sprintf("\r\nOK\r\n\r\n+APP PDP: %d,%s\r\n", id, confirm))
}

func (b *ScriptBuilder) Table(rows ...string) *ScriptBuilder {
	respond := "\r\n"
	for _, row := range rows {
		respond += row + "\r\n"
	}
	respond += "\r\nOK\r\n"
	return b.Step("AT+CNACT?\r", respond)
}

func (b *ScriptBuilder) Build() []nbiot.ScriptStep {
	return b.steps
}

// bringUp runs define/configure/activate for an IP-capable context and
// fails the test on any error. The transport must already be scripted
// for the full flow.
func bringUp(t *testing.T, h *nbiot.Hat, id int, apn string) {
	t.Helper()
	ctx := context.Background()

	if err := h.DefineContext(ctx, id, apn, nbiot.ServiceIPv4); err != nil {
		t.Fatalf("DefineContext(%d) failed: %v", id, err)
	}
	if err := h.ConfigureContext(ctx, id, nbiot.ContextConfig{}); err != nil {
		t.Fatalf("ConfigureContext(%d) failed: %v", id, err)
	}
	if err := h.ActivateContext(ctx, id, nbiot.ActionActivate); err != nil {
		t.Fatalf("ActivateContext(%d) failed: %v", id, err)
	}
}

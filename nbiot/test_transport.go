package nbiot

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// ScriptStep is one expected command/response exchange of a
// ScriptTransport.
type ScriptStep struct {
	// Expect is the exact wire bytes of the write, including the trailing
	// carriage return for commands. Empty accepts any write.
	Expect string
	// Respond is the raw byte stream queued for subsequent reads,
	// including CRLF framing.
	Respond string
}

// ScriptTransport is a test helper that simulates the modem end of the
// settle-then-drain channel. Each write consumes the next scripted step
// and queues its canned response; reads drain the queue and return
// (0, nil) once it is empty, matching the Transport idle-read contract.
//
// Deviations from the script (mismatched or surplus writes) are
// recorded, not raised, so tests can drive a whole multi-command flow
// and assert the transcript at the end.
type ScriptTransport struct {
	mu       sync.Mutex
	steps    []ScriptStep
	pending  bytes.Buffer
	writes   []string
	failures []string
	resets   int
	closed   bool
}

// NewScriptTransport creates a transport scripted with the given steps.
func NewScriptTransport(steps ...ScriptStep) *ScriptTransport {
	return &ScriptTransport{steps: steps}
}

// Preload queues bytes as if the modem had sent them unprompted, before
// the next command's pre-write drain.
func (t *ScriptTransport) Preload(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.WriteString(data)
}

func (t *ScriptTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writes = append(t.writes, string(p))

	if len(t.steps) == 0 {
		t.failures = append(t.failures, fmt.Sprintf("unexpected write %q", p))
		return len(p), nil
	}

	step := t.steps[0]
	t.steps = t.steps[1:]
	if step.Expect != "" && step.Expect != string(p) {
		t.failures = append(t.failures, fmt.Sprintf("write %q, expected %q", p, step.Expect))
	}
	t.pending.WriteString(step.Respond)
	return len(p), nil
}

func (t *ScriptTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending.Len() == 0 {
		return 0, nil
	}
	return t.pending.Read(p)
}

func (t *ScriptTransport) ResetInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	t.pending.Reset()
	return nil
}

func (t *ScriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Writes returns every write seen so far, in order.
func (t *ScriptTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Failures returns the recorded script deviations.
func (t *ScriptTransport) Failures() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.failures...)
}

// Resets returns how many times the input buffer was reset.
func (t *ScriptTransport) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// ScriptDialer hands out a pre-built transport, typically a
// ScriptTransport.
type ScriptDialer struct {
	Transport Transport
}

func (d ScriptDialer) Dial(ctx context.Context) (Transport, error) {
	return d.Transport, nil
}

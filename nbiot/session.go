package nbiot

import (
	"context"
	"fmt"
	"time"

	"i4.energy/across/nbiotgw/at"
)

// SessionConfig carries the parameters of the MQTT session the modem
// maintains on the application's behalf.
type SessionConfig struct {
	// ServerURL is the broker host, without a scheme.
	ServerURL string
	// Port is the broker TCP port.
	Port int
	// ClientID identifies this client to the broker.
	ClientID string
	// KeepAlive is the session keepalive in seconds. Zero selects 60.
	KeepAlive int
	// UseTLS provisions the credential files below into the modem and
	// binds them to the session before connecting.
	UseTLS bool

	// Local credential file paths, used only when UseTLS is set.
	CAFile   string
	CertFile string
	KeyFile  string
}

func (c *SessionConfig) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: broker URL must not be empty", ErrValidation)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: broker port %d out of range", ErrValidation, c.Port)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%w: client id must not be empty", ErrValidation)
	}
	return nil
}

// Connect configures and opens the broker session: URL and port,
// keepalive, a fixed clean-session flag, and the client identifier, each
// individually confirmed. With UseTLS it first runs certificate
// provisioning and binds the converted CA/certificate pair to the
// session's TLS slot. Finally it issues the connect command; the
// connected flag is set only when the connect is confirmed.
//
// The TLS material is always bound to slot 1, matching the device
// protocol, regardless of which context is active.
func (h *Hat) Connect(ctx context.Context, cfg SessionConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60
	}

	pc := h.activeContext()
	if pc == nil {
		return fmt.Errorf("%w: no active context", ErrConfiguration)
	}
	if pc.IPAddress == "" {
		return fmt.Errorf("%w: active context %d has no address", ErrConfiguration, pc.ID)
	}

	for _, conf := range []struct {
		name string
		cmd  string
	}{
		{"broker URL", fmt.Sprintf(`AT+SMCONF="URL",%s,%d`, cfg.ServerURL, cfg.Port)},
		{"keepalive", fmt.Sprintf(`AT+SMCONF="KEEPTIME",%d`, cfg.KeepAlive)},
		{"clean session", `AT+SMCONF="CLEANSS",1`},
		{"client id", fmt.Sprintf(`AT+SMCONF="CLIENTID",%s`, cfg.ClientID)},
	} {
		lines, err := h.channel.Send(ctx, conf.cmd)
		if err != nil {
			return err
		}
		if !hasLine(lines, at.OK) {
			return fmt.Errorf("%w: could not configure %s: %v", ErrProtocol, conf.name, lines)
		}
	}

	if cfg.UseTLS {
		if err := h.provisionTLS(ctx, cfg.CAFile, cfg.CertFile, cfg.KeyFile); err != nil {
			return err
		}
		// The SIM7080X gives no usable confirmation for the bind itself;
		// a bad binding surfaces as a failed connect.
		lines, err := h.channel.Send(ctx, fmt.Sprintf(`AT+SMSSL=1,"%s","%s"`, FlashCA, FlashCert))
		if err != nil {
			return err
		}
		h.logger.Debug("Bound session TLS material", "response", lines)
	}

	lines, err := h.channel.Send(ctx, at.CmdConnect)
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: broker connect not confirmed: %v", ErrProtocol, lines)
	}

	h.connected = true
	return nil
}

// Disconnect closes the broker session.
func (h *Hat) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}

	lines, err := h.channel.Send(ctx, at.CmdDisconnect)
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: broker disconnect not confirmed: %v", ErrProtocol, lines)
	}

	h.connected = false
	return nil
}

// Connected reports whether the last Connect was confirmed and no
// Disconnect has succeeded since.
func (h *Hat) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Subscribe subscribes the session to a topic.
func (h *Hat) Subscribe(ctx context.Context, topic string, qos int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}

	lines, err := h.channel.Send(ctx, fmt.Sprintf(`AT+SMSUB="%s",%d`, topic, qos))
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: subscribe to %s not confirmed: %v", ErrProtocol, topic, lines)
	}
	return nil
}

// Unsubscribe removes a topic subscription.
func (h *Hat) Unsubscribe(ctx context.Context, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if topic == "" {
		return fmt.Errorf("%w: topic must not be empty", ErrValidation)
	}

	lines, err := h.channel.Send(ctx, fmt.Sprintf(`AT+SMUNSUB="%s"`, topic))
	if err != nil {
		return err
	}
	if !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: unsubscribe from %s not confirmed: %v", ErrProtocol, topic, lines)
	}
	return nil
}

// Publish sends one message through the session. The publish-intent
// command announces topic, payload length, qos and retain flag; the
// modem answers with a data prompt, the raw payload is streamed, and
// after the transfer budget has elapsed the terminal confirmation is
// checked.
func (h *Hat) Publish(ctx context.Context, topic string, payload []byte, qos int, retain bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrAlreadyClosed
	}
	if err := validateTopicQoS(topic, qos); err != nil {
		return err
	}

	retainFlag := 0
	if retain {
		retainFlag = 1
	}

	lines, err := h.channel.Send(ctx, fmt.Sprintf(`AT+SMPUB="%s",%d,%d,%d`, topic, len(payload), qos, retainFlag))
	if err != nil {
		return err
	}
	if !hasLine(lines, ">") {
		return fmt.Errorf("%w: no prompt for payload: %v", ErrProtocol, lines)
	}

	lines, err = h.channel.Stream(ctx, payload, publishWait(len(payload), h.config.BitRate))
	if err != nil {
		return err
	}
	if len(lines) > 0 && !hasLine(lines, at.OK) {
		return fmt.Errorf("%w: publish to %s failed: %v", ErrProtocol, topic, lines)
	}
	return nil
}

func validateTopicQoS(topic string, qos int) error {
	if topic == "" {
		return fmt.Errorf("%w: topic must not be empty", ErrValidation)
	}
	if qos < 0 || qos > 2 {
		return fmt.Errorf("%w: qos %d out of range", ErrValidation, qos)
	}
	return nil
}

// publishWait is the transfer budget after streaming a publish payload.
// It counts payload bytes over the line bit rate, unlike uploadWait's
// bits over bit rate.
func publishWait(size, bitRate int) time.Duration {
	seconds := (size + bitRate - 1) / bitRate
	return time.Duration(seconds) * time.Second
}

package nbiot_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"i4.energy/across/nbiotgw/nbiot"
)

// BrokerConfig scripts the four session configuration commands.
func (b *ScriptBuilder) BrokerConfig(url string, port, keepalive int, clientID string) *ScriptBuilder {
	return b.Step("AT+SMCONF=\"URL\","+url+","+strconv.Itoa(port)+"\r", "\r\nOK\r\n").
		Step("AT+SMCONF=\"KEEPTIME\","+strconv.Itoa(keepalive)+"\r", "\r\nOK\r\n").
		Step("AT+SMCONF=\"CLEANSS\",1\r", "\r\nOK\r\n").
		Step("AT+SMCONF=\"CLIENTID\","+clientID+"\r", "\r\nOK\r\n")
}

func TestConnect(t *testing.T) {
	session := nbiot.SessionConfig{
		ServerURL: "broker.example.com",
		Port:      8883,
		ClientID:  "hat-1",
	}

	t.Run("ErrValidation on malformed parameters", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  nbiot.SessionConfig
		}{
			{"Empty URL", nbiot.SessionConfig{Port: 8883, ClientID: "hat-1"}},
			{"Port out of range", nbiot.SessionConfig{ServerURL: "b", Port: 70000, ClientID: "hat-1"}},
			{"Zero port", nbiot.SessionConfig{ServerURL: "b", ClientID: "hat-1"}},
			{"Empty client id", nbiot.SessionConfig{ServerURL: "b", Port: 8883}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				transport := nbiot.NewScriptTransport()
				h := newTestHat(t, transport)

				if err := h.Connect(context.Background(), tt.cfg); !errors.Is(err, nbiot.ErrValidation) {
					t.Errorf("expected ErrValidation, got: %v", err)
				}
				if writes := transport.Writes(); len(writes) != 0 {
					t.Errorf("expected no commands written, got: %q", writes)
				}
			})
		}
	})

	t.Run("ErrConfiguration without an active context", func(t *testing.T) {
		h := newTestHat(t, nbiot.NewScriptTransport())

		if err := h.Connect(context.Background(), session); !errors.Is(err, nbiot.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got: %v", err)
		}
	})

	t.Run("Configures and connects", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			activeScript().
				BrokerConfig("broker.example.com", 8883, 60, "hat-1").
				Step("AT+SMCONN\r", "\r\nOK\r\n").
				Build()...,
		)
		h := newTestHat(t, transport)
		bringUp(t, h, 0, "ciot")

		if err := h.Connect(context.Background(), session); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !h.Connected() {
			t.Error("expected Connected() after confirmed connect")
		}
	})

	t.Run("Connected stays false when connect is not confirmed", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			activeScript().
				BrokerConfig("broker.example.com", 8883, 60, "hat-1").
				Step("AT+SMCONN\r", "\r\nERROR\r\n").
				Build()...,
		)
		h := newTestHat(t, transport)
		bringUp(t, h, 0, "ciot")

		err := h.Connect(context.Background(), session)
		if !errors.Is(err, nbiot.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got: %v", err)
		}
		if h.Connected() {
			t.Error("expected Connected() to stay false")
		}
	})

	t.Run("TLS session provisions and binds before connecting", func(t *testing.T) {
		ca, cert, key := writeCredentials(t)
		caData, _ := os.ReadFile(ca)
		certData, _ := os.ReadFile(cert)
		keyData, _ := os.ReadFile(key)

		transport := nbiot.NewScriptTransport(
			activeScript().
				BrokerConfig("broker.example.com", 8883, 60, "hat-1").
				ClockSynced().
				PushFile("ca.crt", string(caData)).
				PushFile("client.crt", string(certData)).
				PushFile("client.key", string(keyData)).
				Step("AT+CSSLCFG=\"CONVERT\",2,\"ca.crt\"\r", "\r\nOK\r\n").
				Step("AT+CSSLCFG=\"CONVERT\",1,\"client.crt\",\"client.key\"\r", "\r\nOK\r\n").
				Step("AT+SMSSL=1,\"ca.crt\",\"client.crt\"\r", "\r\nOK\r\n").
				Step("AT+SMCONN\r", "\r\nOK\r\n").
				Build()...,
		)
		h := newTestHat(t, transport)
		bringUp(t, h, 0, "ciot")

		tlsSession := session
		tlsSession.UseTLS = true
		tlsSession.CAFile = ca
		tlsSession.CertFile = cert
		tlsSession.KeyFile = key

		if err := h.Connect(context.Background(), tlsSession); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !h.Connected() {
			t.Error("expected Connected() after confirmed TLS connect")
		}
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("Clears the connected flag", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			activeScript().
				BrokerConfig("broker.example.com", 8883, 60, "hat-1").
				Step("AT+SMCONN\r", "\r\nOK\r\n").
				Step("AT+SMDISC\r", "\r\nOK\r\n").
				Build()...,
		)
		h := newTestHat(t, transport)
		bringUp(t, h, 0, "ciot")

		ctx := context.Background()
		if err := h.Connect(ctx, nbiot.SessionConfig{ServerURL: "broker.example.com", Port: 8883, ClientID: "hat-1"}); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if err := h.Disconnect(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Connected() {
			t.Error("expected Connected() false after disconnect")
		}
	})

	t.Run("ErrProtocol when not confirmed", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMDISC\r", Respond: "\r\nERROR\r\n"},
		)
		h := newTestHat(t, transport)

		if err := h.Disconnect(context.Background()); !errors.Is(err, nbiot.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got: %v", err)
		}
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("Request and confirm", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMSUB=\"commands/hat-1\",1\r", Respond: "\r\nOK\r\n"},
		)
		h := newTestHat(t, transport)

		if err := h.Subscribe(context.Background(), "commands/hat-1", 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrValidation on bad qos", func(t *testing.T) {
		h := newTestHat(t, nbiot.NewScriptTransport())

		if err := h.Subscribe(context.Background(), "t", 3); !errors.Is(err, nbiot.ErrValidation) {
			t.Errorf("expected ErrValidation, got: %v", err)
		}
	})

	t.Run("ErrProtocol when not confirmed", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMSUB=\"t\",0\r", Respond: ""},
		)
		h := newTestHat(t, transport)

		if err := h.Subscribe(context.Background(), "t", 0); !errors.Is(err, nbiot.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got: %v", err)
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Run("Request and confirm", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMUNSUB=\"commands/hat-1\"\r", Respond: "\r\nOK\r\n"},
		)
		h := newTestHat(t, transport)

		if err := h.Unsubscribe(context.Background(), "commands/hat-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrProtocol when not confirmed", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMUNSUB=\"t\"\r", Respond: "\r\nERROR\r\n"},
		)
		h := newTestHat(t, transport)

		if err := h.Unsubscribe(context.Background(), "t"); !errors.Is(err, nbiot.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got: %v", err)
		}
	})
}

func TestPublish(t *testing.T) {
	t.Run("Prompt, payload, transfer wait, confirmation", func(t *testing.T) {
		payload := []byte(`{"temp":21.5}`)
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMPUB=\"telemetry\",13,1,0\r", Respond: "\r\n> "},
			nbiot.ScriptStep{Expect: string(payload), Respond: "\r\nOK\r\n"},
		)
		h := newTestHat(t, transport)

		var sleeps []time.Duration
		nbiot.StubSleep(h, func(d time.Duration) {
			sleeps = append(sleeps, d)
		})

		if err := h.Publish(context.Background(), "telemetry", payload, 1, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := nbiot.PublishWait(len(payload), 9600); !slices.Contains(sleeps, want) {
			t.Errorf("expected a transfer wait of %v among %v", want, sleeps)
		}
	})

	t.Run("Retain flag on the wire", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMPUB=\"status\",2,0,1\r", Respond: "\r\n> "},
			nbiot.ScriptStep{Expect: "up", Respond: "\r\nOK\r\n"},
		)
		h := newTestHat(t, transport)

		if err := h.Publish(context.Background(), "status", []byte("up"), 0, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrProtocol without a data prompt", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMPUB=\"telemetry\",4,0,0\r", Respond: "\r\nERROR\r\n"},
		)
		h := newTestHat(t, transport)

		err := h.Publish(context.Background(), "telemetry", []byte("data"), 0, false)
		if !errors.Is(err, nbiot.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got: %v", err)
		}
		if !strings.Contains(err.Error(), "no prompt for payload") {
			t.Errorf("expected the no-prompt detail, got: %v", err)
		}
	})

	t.Run("ErrProtocol on failed confirmation", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMPUB=\"telemetry\",4,0,0\r", Respond: "\r\n> "},
			nbiot.ScriptStep{Expect: "data", Respond: "\r\nERROR\r\n"},
		)
		h := newTestHat(t, transport)

		err := h.Publish(context.Background(), "telemetry", []byte("data"), 0, false)
		if !errors.Is(err, nbiot.ErrProtocol) {
			t.Errorf("expected ErrProtocol, got: %v", err)
		}
	})

	t.Run("Silent modem after payload is success", func(t *testing.T) {
		transport := nbiot.NewScriptTransport(
			nbiot.ScriptStep{Expect: "AT+SMPUB=\"telemetry\",4,0,0\r", Respond: "\r\n> "},
			nbiot.ScriptStep{Expect: "data", Respond: ""},
		)
		h := newTestHat(t, transport)

		if err := h.Publish(context.Background(), "telemetry", []byte("data"), 0, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

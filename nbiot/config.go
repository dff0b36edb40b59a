package nbiot

import (
	"log/slog"
	"time"
)

// Config carries the construction parameters for a Hat. Use
// NewConfigBuilder to assemble one with defaults applied.
type Config struct {
	// Dialer opens the transport to the modem. Required.
	Dialer Dialer
	// Power drives the HAT's physical power key. Optional; without it
	// PowerOn/PowerOff fail and Initialize can only re-probe.
	Power PowerLine
	// Logger receives structured driver logs. Nil selects slog.Default().
	Logger *slog.Logger
	// BitRate is the line rate in bits per second, used to derive the
	// post-write wait budgets for file uploads and publishes.
	BitRate int
	// SettleDuration is the fixed wait between writing a command and
	// draining its response. The channel has no response-complete signal;
	// this is a timing heuristic, and undersizing it turns into
	// ErrProtocol on truncated responses.
	SettleDuration time.Duration
	// ProbeSettle is the longer settle used for the liveness probe during
	// initialization, when the modem may still be booting.
	ProbeSettle time.Duration
	// InitAttempts bounds the probe/power-pulse retry loop in Initialize.
	InitAttempts int
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.BitRate == 0 {
		c.BitRate = 9600
	}
	if c.SettleDuration == 0 {
		c.SettleDuration = 100 * time.Millisecond
	}
	if c.ProbeSettle == 0 {
		c.ProbeSettle = time.Second
	}
	if c.InitAttempts == 0 {
		c.InitAttempts = 3
	}
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithPower(p PowerLine) *ConfigBuilder {
	b.config.Power = p
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithBitRate(r int) *ConfigBuilder {
	b.config.BitRate = r
	return b
}

func (b *ConfigBuilder) WithSettleDuration(d time.Duration) *ConfigBuilder {
	b.config.SettleDuration = d
	return b
}

func (b *ConfigBuilder) WithProbeSettle(d time.Duration) *ConfigBuilder {
	b.config.ProbeSettle = d
	return b
}

func (b *ConfigBuilder) WithInitAttempts(n int) *ConfigBuilder {
	b.config.InitAttempts = n
	return b
}

// Build applies defaults, validates and returns the assembled Config.
func (b *ConfigBuilder) Build() (Config, error) {
	b.config.setDefaults()
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	return b.config, nil
}

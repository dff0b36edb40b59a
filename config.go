package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the HAT's UART (e.g. "/dev/ttyS0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the line rate for serial communication with the modem
	BaudRate int `yaml:"baud_rate"`
	// PowerPin is the kernel GPIO number wired to the HAT's power key
	PowerPin int `yaml:"power_pin"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// LogFile, when set, sends logs to a rotated file instead of stderr
	LogFile string `yaml:"log_file"`
	// OutboxPath is the sqlite database backing the publish queue
	OutboxPath string `yaml:"outbox_path"`

	// APN is the access point name of the uplink context
	APN string `yaml:"apn"`
	// ContextID selects which packet data context to bring up (0-3)
	ContextID int `yaml:"context_id"`

	// BrokerURL is the MQTT broker host
	BrokerURL string `yaml:"broker_url"`
	// BrokerPort is the MQTT broker port
	BrokerPort int `yaml:"broker_port"`
	// ClientID identifies this gateway to the broker; generated if empty
	ClientID string `yaml:"client_id"`
	// KeepAlive is the MQTT keepalive in seconds
	KeepAlive int `yaml:"keepalive"`
	// UseTLS provisions the credential files below and encrypts the session
	UseTLS bool `yaml:"use_tls"`
	// CAFile is the root CA certificate path
	CAFile string `yaml:"ca_file"`
	// CertFile is the client certificate path
	CertFile string `yaml:"cert_file"`
	// KeyFile is the client key path
	KeyFile string `yaml:"key_file"`

	// CommandTopic, when set, is subscribed after connecting
	CommandTopic string `yaml:"command_topic"`
	// HTTPToken, when set, is required as a bearer token on POST /publish
	HTTPToken string `yaml:"http_token"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyS0"
		c.BaudRate = 9600
		c.PowerPin = 4
		c.LogLevel = "info"
		c.OutboxPath = "nbiotgw.db"
		c.ContextID = 0
		c.BrokerPort = 8883
		c.KeepAlive = 60
		return nil
	}
}

// WithFile overlays configuration from a YAML file. An empty path is a
// no-op so the flag can stay optional.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		setString := func(key string, dst *string) {
			if v := os.Getenv(key); v != "" {
				*dst = v
			}
		}
		setInt := func(key string, dst *int) {
			if v := os.Getenv(key); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					*dst = n
				}
			}
		}

		setString("BIND_ADDRESS", &c.BindAddress)
		setString("SERIAL_PORT", &c.SerialPort)
		setInt("BAUD_RATE", &c.BaudRate)
		setInt("POWER_PIN", &c.PowerPin)
		setString("LOG_LEVEL", &c.LogLevel)
		setString("LOG_FILE", &c.LogFile)
		setString("OUTBOX_PATH", &c.OutboxPath)
		setString("APN", &c.APN)
		setInt("CONTEXT_ID", &c.ContextID)
		setString("BROKER_URL", &c.BrokerURL)
		setInt("BROKER_PORT", &c.BrokerPort)
		setString("CLIENT_ID", &c.ClientID)
		setInt("KEEPALIVE", &c.KeepAlive)
		setString("CA_FILE", &c.CAFile)
		setString("CERT_FILE", &c.CertFile)
		setString("KEY_FILE", &c.KeyFile)
		setString("COMMAND_TOPIC", &c.CommandTopic)
		setString("HTTP_TOKEN", &c.HTTPToken)

		if v := os.Getenv("USE_TLS"); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.UseTLS = b
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = n
				}
			case "power-pin":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.PowerPin = n
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "log-file":
				c.LogFile = f.Value.String()
			case "outbox":
				c.OutboxPath = f.Value.String()
			case "apn":
				c.APN = f.Value.String()
			case "context-id":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.ContextID = n
				}
			case "broker-url":
				c.BrokerURL = f.Value.String()
			case "broker-port":
				if n, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BrokerPort = n
				}
			case "client-id":
				c.ClientID = f.Value.String()
			case "use-tls":
				if b, err := strconv.ParseBool(f.Value.String()); err == nil {
					c.UseTLS = b
				}
			case "ca-file":
				c.CAFile = f.Value.String()
			case "cert-file":
				c.CertFile = f.Value.String()
			case "key-file":
				c.KeyFile = f.Value.String()
			case "command-topic":
				c.CommandTopic = f.Value.String()
			}
		})
		return nil
	}
}

func (c *Config) validate() error {
	if c.APN == "" {
		return fmt.Errorf("apn is required")
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("broker-url is required")
	}
	if c.ContextID < 0 || c.ContextID > 3 {
		return fmt.Errorf("context-id must be 0-3, got %d", c.ContextID)
	}
	if c.UseTLS && (c.CAFile == "" || c.CertFile == "" || c.KeyFile == "") {
		return fmt.Errorf("use-tls requires ca-file, cert-file and key-file")
	}
	return nil
}

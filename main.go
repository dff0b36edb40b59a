package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"
	"gopkg.in/natefinch/lumberjack.v2"

	"i4.energy/across/nbiotgw/nbiot"
	"i4.energy/across/nbiotgw/outbox"
)

func main() {
	flag.String("config", "", "Path to an optional YAML configuration file")
	flag.String("serial-port", "/dev/ttyS0", "Serial port to connect to the HAT")
	flag.Int("baud-rate", 9600, "Baud rate for serial communication")
	flag.Int("power-pin", 4, "GPIO number wired to the HAT's power key")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("log-file", "", "Log to this file with rotation instead of stderr")
	flag.String("outbox", "nbiotgw.db", "Path to the sqlite publish queue")
	flag.String("apn", "", "Access point name for the uplink context")
	flag.Int("context-id", 0, "Packet data context to bring up (0-3)")
	flag.String("broker-url", "", "MQTT broker host")
	flag.Int("broker-port", 8883, "MQTT broker port")
	flag.String("client-id", "", "MQTT client identifier (generated if empty)")
	flag.Bool("use-tls", false, "Provision TLS credentials and encrypt the session")
	flag.String("ca-file", "", "Root CA certificate path")
	flag.String("cert-file", "", "Client certificate path")
	flag.String("key-file", "", "Client key path")
	flag.String("command-topic", "", "Topic to subscribe to after connecting")
	flag.Parse()

	configPath := flag.CommandLine.Lookup("config").Value.String()
	config, err := LoadConfig(WithDefaults(), WithFile(configPath), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := config.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if config.ClientID == "" {
		config.ClientID = "nbiotgw-" + uuid.NewString()
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var logWriter io.Writer = os.Stderr
	if config.LogFile != "" {
		logWriter = &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	logger := slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: logLevel}))

	power := &nbiot.GPIOPowerLine{Pin: config.PowerPin}

	hatConfig, err := nbiot.NewConfigBuilder().
		WithDialer(nbiot.SerialDialer{
			PortName: config.SerialPort,
			Mode:     &serial.Mode{BaudRate: config.BaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
		}).
		WithPower(power).
		WithLogger(logger.With("component", "hat")).
		WithBitRate(config.BaudRate).
		Build()
	if err != nil {
		logger.Error("Failed to create HAT config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	hat, err := nbiot.New(ctx, hatConfig)
	if err != nil {
		logger.Error("Failed to open HAT", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting NB-IoT gateway", "serial_port", config.SerialPort, "client_id", config.ClientID)

	if err := hat.Initialize(ctx, hatConfig.InitAttempts); err != nil {
		logger.Error("Failed to initialize HAT", "error", err)
		hat.Close()
		os.Exit(1)
	}

	id := config.ContextID
	if err := hat.DefineContext(ctx, id, config.APN, nbiot.ServiceDualStack); err != nil {
		logger.Error("Failed to define context", "error", err, "context", id)
		hat.Close()
		os.Exit(1)
	}
	if err := hat.ConfigureContext(ctx, id, nbiot.ContextConfig{APN: config.APN}); err != nil {
		logger.Error("Failed to configure context", "error", err, "context", id)
		hat.Close()
		os.Exit(1)
	}
	if err := hat.ActivateContext(ctx, id, nbiot.ActionActivate); err != nil {
		logger.Error("Failed to activate context", "error", err, "context", id)
		hat.Close()
		os.Exit(1)
	}
	if pdp, ok := hat.ActiveContext(); ok {
		logger.Info("Context active", "context", id, "ip_address", pdp.IPAddress)
	}

	session := nbiot.SessionConfig{
		ServerURL: config.BrokerURL,
		Port:      config.BrokerPort,
		ClientID:  config.ClientID,
		KeepAlive: config.KeepAlive,
		UseTLS:    config.UseTLS,
		CAFile:    config.CAFile,
		CertFile:  config.CertFile,
		KeyFile:   config.KeyFile,
	}
	if err := hat.Connect(ctx, session); err != nil {
		logger.Error("Failed to connect MQTT session", "error", err, "broker", config.BrokerURL)
		hat.Close()
		os.Exit(1)
	}
	logger.Info("MQTT session connected", "broker", config.BrokerURL, "port", config.BrokerPort)

	if config.CommandTopic != "" {
		if err := hat.Subscribe(ctx, config.CommandTopic, 1); err != nil {
			logger.Error("Failed to subscribe to command topic", "error", err, "topic", config.CommandTopic)
		}
	}

	queue, err := outbox.Open(config.OutboxPath)
	if err != nil {
		logger.Error("Failed to open outbox", "error", err, "path", config.OutboxPath)
		hat.Close()
		os.Exit(1)
	}

	drainCtx, stopDrain := context.WithCancel(ctx)
	drainer := &Drainer{
		Logger:      logger.With("component", "drainer"),
		Hat:         hat,
		Outbox:      queue,
		Interval:    5 * time.Second,
		MaxAttempts: 5,
	}
	go drainer.Run(drainCtx)

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger: logger.With("component", "server"),
			Hat:    hat,
			Outbox: queue,
			Token:  config.HTTPToken,
		},
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	stopDrain()

	logger.Info("Disconnecting MQTT session")
	if err := hat.Disconnect(shutdownCtx); err != nil {
		logger.Error("Failed to disconnect session", "error", err)
	}

	logger.Info("Closing HAT connection")
	if err := hat.Close(); err != nil {
		logger.Error("Failed to close HAT", "error", err)
	}
	if err := power.Close(); err != nil {
		logger.Error("Failed to release power line", "error", err)
	}

	if err := queue.Close(); err != nil {
		logger.Error("Failed to close outbox", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"i4.energy/across/nbiotgw/nbiot"
	"i4.energy/across/nbiotgw/outbox"
)

// Drainer publishes queued outbox messages over the HAT's MQTT session
type Drainer struct {
	Logger *slog.Logger
	Hat    *nbiot.Hat
	Outbox *outbox.Store
	// Interval is how often the queue is polled for work
	Interval time.Duration
	// MaxAttempts bounds how often a message is retried before it is
	// marked permanently failed
	MaxAttempts int
}

// Run polls the outbox until ctx is cancelled
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

// drainOnce publishes queued messages in order until the queue is empty
// or a publish fails. A failed message is re-queued (or marked failed
// once its attempts are spent) and the rest of the queue waits for the
// next tick, so a flaky link does not burn through every message.
func (d *Drainer) drainOnce(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !d.Hat.Connected() {
			return
		}

		msg, err := d.Outbox.Next()
		if errors.Is(err, outbox.ErrEmpty) {
			return
		}
		if err != nil {
			d.Logger.Error("Failed to read outbox", "error", err)
			return
		}

		if err := d.Hat.Publish(ctx, msg.Topic, msg.Payload, msg.QoS, msg.Retain); err != nil {
			terminal := errors.Is(err, nbiot.ErrValidation) || msg.Attempts+1 >= d.MaxAttempts
			d.Logger.Error("Failed to publish message",
				"error", err, "id", msg.ID, "topic", msg.Topic,
				"attempts", msg.Attempts+1, "terminal", terminal)
			if err := d.Outbox.MarkFailed(msg.ID, terminal); err != nil {
				d.Logger.Error("Failed to update message state", "error", err, "id", msg.ID)
			}
			return
		}

		if err := d.Outbox.MarkSent(msg.ID); err != nil {
			d.Logger.Error("Failed to mark message sent", "error", err, "id", msg.ID)
			return
		}
		d.Logger.Info("Message published", "id", msg.ID, "topic", msg.Topic, "payload_length", len(msg.Payload))
	}
}
